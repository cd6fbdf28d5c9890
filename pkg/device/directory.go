package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/logging"

	"github.com/miohome/micloud/pkg/cloud"
)

// Discovery endpoints. The household-scoped listing is authoritative; the
// flat listing is a fallback for devices the household calls do not
// surface.
const (
	ownHomesPath    = "/v2/homeroom/gethome"
	sharedHomesPath = "/v2/user/get_device_cnt"
	homeDevicesPath = "/v2/home/home_device_list"
	flatDevicesPath = "/home/device_list"
)

// homePageLimit bounds one household device listing.
const homePageLimit = 200

// DirectoryConfig configures a Directory.
type DirectoryConfig struct {
	// RPC is the authenticated encrypted RPC client. Required.
	RPC *cloud.Client

	// LoggerFactory creates the package logger. If nil, a default factory
	// is used.
	LoggerFactory logging.LoggerFactory
}

// Directory enumerates the controllable devices of an account across its
// own and shared households.
type Directory struct {
	rpc *cloud.Client
	log logging.LeveledLogger
}

// NewDirectory creates a Directory.
func NewDirectory(config DirectoryConfig) *Directory {
	factory := config.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}
	return &Directory{
		rpc: config.RPC,
		log: factory.NewLogger("device"),
	}
}

// homeRef identifies one household and its owning account.
type homeRef struct {
	ID    json.Number
	Owner json.Number
}

// ListDevices enumerates every device visible to the account: devices in
// its own households, devices in households shared by other owners, and a
// flat fallback listing. Results are deduplicated by MAC address
// (first-seen wins) and filtered to models starting with modelPrefix; an
// empty prefix keeps everything.
//
// A failing shared-household lookup is logged and skipped; the other
// sources are mandatory.
func (d *Directory) ListDevices(ctx context.Context, modelPrefix string) ([]Record, error) {
	var out []Record
	seen := make(map[string]struct{})
	add := func(r Record) {
		key := r.MAC
		if key == "" {
			key = "did:" + r.DID
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}

	homes, err := d.ownHomes(ctx)
	if err != nil {
		return nil, err
	}

	shared, err := d.sharedHomes(ctx)
	if err != nil {
		d.log.Warnf("shared household listing failed, continuing without: %v", err)
	} else {
		homes = append(homes, shared...)
	}

	for _, h := range homes {
		records, err := d.homeDevices(ctx, h)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			add(r)
		}
	}

	flat, err := d.flatDevices(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range flat {
		add(r)
	}

	if modelPrefix != "" {
		filtered := out[:0]
		for _, r := range out {
			if strings.HasPrefix(r.Model, modelPrefix) {
				filtered = append(filtered, r)
			}
		}
		out = filtered
	}

	d.log.Infof("discovered %d device(s) across %d household(s)", len(out), len(homes))
	return out, nil
}

func (d *Directory) ownHomes(ctx context.Context) ([]homeRef, error) {
	data, err := json.Marshal(struct {
		FG            bool `json:"fg"`
		FetchShare    bool `json:"fetch_share"`
		FetchShareDev bool `json:"fetch_share_dev"`
		Limit         int  `json:"limit"`
		AppVer        int  `json:"app_ver"`
	}{true, true, true, 300, 7})
	if err != nil {
		return nil, err
	}

	var result struct {
		HomeList []struct {
			ID json.Number `json:"id"`
		} `json:"homelist"`
	}
	if err := d.rpc.CallResult(ctx, ownHomesPath, cloud.NewParams().With("data", string(data)), &result); err != nil {
		return nil, fmt.Errorf("device: listing own households: %w", err)
	}

	owner := json.Number(d.rpc.UserID())
	homes := make([]homeRef, 0, len(result.HomeList))
	for _, h := range result.HomeList {
		homes = append(homes, homeRef{ID: h.ID, Owner: owner})
	}
	return homes, nil
}

func (d *Directory) sharedHomes(ctx context.Context) ([]homeRef, error) {
	data, err := json.Marshal(struct {
		FetchOwn   bool `json:"fetch_own"`
		FetchShare bool `json:"fetch_share"`
	}{false, true})
	if err != nil {
		return nil, err
	}

	var result struct {
		Share struct {
			ShareFamily []struct {
				HomeID    json.Number `json:"home_id"`
				HomeOwner json.Number `json:"home_owner"`
			} `json:"share_family"`
		} `json:"share"`
	}
	if err := d.rpc.CallResult(ctx, sharedHomesPath, cloud.NewParams().With("data", string(data)), &result); err != nil {
		return nil, fmt.Errorf("device: listing shared households: %w", err)
	}

	homes := make([]homeRef, 0, len(result.Share.ShareFamily))
	for _, h := range result.Share.ShareFamily {
		homes = append(homes, homeRef{ID: h.HomeID, Owner: h.HomeOwner})
	}
	return homes, nil
}

func (d *Directory) homeDevices(ctx context.Context, home homeRef) ([]Record, error) {
	data, err := json.Marshal(struct {
		HomeOwner        json.Number `json:"home_owner"`
		HomeID           json.Number `json:"home_id"`
		Limit            int         `json:"limit"`
		GetSplitDevice   bool        `json:"get_split_device"`
		SupportSmartHome bool        `json:"support_smart_home"`
	}{home.Owner, home.ID, homePageLimit, true, true})
	if err != nil {
		return nil, err
	}

	var result struct {
		DeviceInfo []Record `json:"device_info"`
	}
	if err := d.rpc.CallResult(ctx, homeDevicesPath, cloud.NewParams().With("data", string(data)), &result); err != nil {
		return nil, fmt.Errorf("device: listing household %s: %w", home.ID, err)
	}
	return result.DeviceInfo, nil
}

func (d *Directory) flatDevices(ctx context.Context) ([]Record, error) {
	data, err := json.Marshal(struct {
		GetVirtualModel bool `json:"getVirtualModel"`
		GetHuamiDevices int  `json:"getHuamiDevices"`
	}{false, 0})
	if err != nil {
		return nil, err
	}

	var result struct {
		List []Record `json:"list"`
	}
	if err := d.rpc.CallResult(ctx, flatDevicesPath, cloud.NewParams().With("data", string(data)), &result); err != nil {
		return nil, fmt.Errorf("device: flat device listing: %w", err)
	}
	return result.List, nil
}
