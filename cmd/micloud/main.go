// micloud is a command-line client for the Mi Home cloud.
//
// It logs in once, keeps the session in a file, and exposes the device
// directory and miot property/action operations.
//
// Usage:
//
//	micloud [options] <command> [args]
//
// Commands:
//
//	login                          Log in with -username; the password is
//	                               read from MICLOUD_PASSWORD or stdin
//	devices                        List the account's devices
//	get <did> <siid> <piid>        Read one property
//	set <did> <siid> <piid> <val>  Write one property (value is JSON)
//	action <did> <siid> <aiid> [args...]  Invoke an action (args are JSON)
//
// Options:
//
//	-username      Account name for login
//	-country       API region: cn, de, us, ru, sg, i2 (default: cn)
//	-model         Model prefix filter for the devices command
//	-session-file  Session path (default: ~/.micloud-session.json)
//	-verbose       Enable debug logging
//
// Example:
//
//	micloud -username you@example.com login
//	micloud -country de devices
//	micloud get 123456789 2 1
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pion/logging"

	"github.com/miohome/micloud/pkg/device"
	"github.com/miohome/micloud/pkg/micloud"
)

func main() {
	username := flag.String("username", "", "account name for login")
	country := flag.String("country", "cn", "API region (cn, de, us, ru, sg, i2)")
	model := flag.String("model", "", "model prefix filter for the devices command")
	sessionFile := flag.String("session-file", defaultSessionFile(), "session path")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	factory := logging.NewDefaultLoggerFactory()
	if *verbose {
		factory.DefaultLogLevel = logging.LogLevelDebug
	}

	client := micloud.NewClient(micloud.Config{
		Country:       *country,
		Storage:       micloud.NewFileSessionStore(*sessionFile),
		LoggerFactory: factory,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := run(ctx, client, *username, *model, flag.Args()); err != nil {
		log.Fatalf("micloud: %v", err)
	}
}

func run(ctx context.Context, client *micloud.Client, username, model string, args []string) error {
	command, args := args[0], args[1:]

	if command == "login" {
		return login(ctx, client, username)
	}

	// Every other command needs a live session.
	ok, err := client.RestoreSession(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no valid session, run login first")
	}

	switch command {
	case "devices":
		return listDevices(ctx, client, model)
	case "get":
		return getProperty(ctx, client, args)
	case "set":
		return setProperty(ctx, client, args)
	case "action":
		return callAction(ctx, client, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func login(ctx context.Context, client *micloud.Client, username string) error {
	if username == "" {
		return fmt.Errorf("login requires -username")
	}
	password := os.Getenv("MICLOUD_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimSpace(line)
	}

	if err := client.Login(ctx, username, password); err != nil {
		return err
	}
	fmt.Printf("logged in as user %s\n", client.UserID())
	return nil
}

func listDevices(ctx context.Context, client *micloud.Client, model string) error {
	devices, err := client.ListDevices(ctx, model)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no devices")
		return nil
	}
	for _, d := range devices {
		state := "offline"
		if d.IsOnline {
			state = "online"
		}
		fmt.Printf("%-14s %-28s %-18s %-15s %s\n", d.DID, d.Model, d.Name, d.LocalIP, state)
	}
	return nil
}

func getProperty(ctx context.Context, client *micloud.Client, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: get <did> <siid> <piid>")
	}
	siid, piid, err := parseIDs(args[1], args[2])
	if err != nil {
		return err
	}

	values, err := client.GetProperties(ctx, args[0], []device.PropertyRef{{SIID: siid, PIID: piid}})
	if err != nil {
		return err
	}
	for _, v := range values {
		if v.Code != 0 {
			fmt.Printf("%d/%d: device code %d\n", v.SIID, v.PIID, v.Code)
			continue
		}
		fmt.Printf("%d/%d: %v\n", v.SIID, v.PIID, v.Value)
	}
	return nil
}

func setProperty(ctx context.Context, client *micloud.Client, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: set <did> <siid> <piid> <json-value>")
	}
	siid, piid, err := parseIDs(args[1], args[2])
	if err != nil {
		return err
	}
	var value any
	if err := json.Unmarshal([]byte(args[3]), &value); err != nil {
		return fmt.Errorf("value must be JSON: %w", err)
	}

	if err := client.SetProperty(ctx, args[0], siid, piid, value); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func callAction(ctx context.Context, client *micloud.Client, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: action <did> <siid> <aiid> [json-args...]")
	}
	siid, aiid, err := parseIDs(args[1], args[2])
	if err != nil {
		return err
	}
	in := make([]any, 0, len(args)-3)
	for _, arg := range args[3:] {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			return fmt.Errorf("action argument %q must be JSON: %w", arg, err)
		}
		in = append(in, v)
	}

	result, err := client.CallAction(ctx, args[0], siid, aiid, in)
	if err != nil {
		return err
	}
	out, _ := json.Marshal(result.Out)
	fmt.Printf("out: %s\n", out)
	return nil
}

func parseIDs(a, b string) (int, int, error) {
	first, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, fmt.Errorf("bad identifier %q", a)
	}
	second, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, fmt.Errorf("bad identifier %q", b)
	}
	return first, second, nil
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".micloud-session.json"
	}
	return filepath.Join(home, ".micloud-session.json")
}
