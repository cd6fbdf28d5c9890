package device

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestListDevicesDedup reports the same device from three discovery
// sources and expects exactly one record, the first-seen one.
func TestListDevicesDedup(t *testing.T) {
	f := newFakeAPI(t)

	f.handle(ownHomesPath, nil, func(string) string {
		return `{"code":0,"result":{"homelist":[{"id":100}]}}`
	})
	f.handle(sharedHomesPath, nil, func(string) string {
		return `{"code":0,"result":{"share":{"share_family":[{"home_id":200,"home_owner":999}]}}}`
	})
	f.handle(homeDevicesPath, nil, func(data string) string {
		if strings.Contains(data, `"home_id":200`) {
			return `{"code":0,"result":{"device_info":[
				{"did":"dup","mac":"AA:BB:CC:DD:EE:FF","model":"zhimi.fan.za5","name":"from-shared-home"},
				{"did":"shared-only","mac":"11:11:11:11:11:11","model":"zhimi.fan.za5","name":"shared"}]}}`
		}
		return `{"code":0,"result":{"device_info":[
			{"did":"dup","mac":"AA:BB:CC:DD:EE:FF","model":"zhimi.fan.za5","name":"from-own-home"}]}}`
	})
	f.handle(flatDevicesPath, nil, func(string) string {
		return `{"code":0,"result":{"list":[
			{"did":"dup","mac":"AA:BB:CC:DD:EE:FF","model":"zhimi.fan.za5","name":"from-flat-list"},
			{"did":"flat-only","mac":"22:22:22:22:22:22","model":"zhimi.fan.za5","name":"flat"}]}}`
	})

	d := NewDirectory(DirectoryConfig{RPC: f.rpc()})
	records, err := d.ListDevices(context.Background(), "")
	require.NoError(t, err)

	byMAC := make(map[string]Record)
	for _, r := range records {
		_, dup := byMAC[r.MAC]
		require.False(t, dup, "MAC %s reported more than once", r.MAC)
		byMAC[r.MAC] = r
	}
	require.Len(t, records, 3)
	require.Equal(t, "from-own-home", byMAC["AA:BB:CC:DD:EE:FF"].Name, "first-seen record must win")
}

func TestListDevicesSharedFailureNonFatal(t *testing.T) {
	f := newFakeAPI(t)

	f.handle(ownHomesPath, nil, func(string) string {
		return `{"code":0,"result":{"homelist":[{"id":100}]}}`
	})
	f.handle(sharedHomesPath, nil, func(string) string {
		return `{"code":-8,"message":"upstream unavailable"}`
	})
	f.handle(homeDevicesPath, nil, func(string) string {
		return `{"code":0,"result":{"device_info":[{"did":"a","mac":"AA:AA:AA:AA:AA:AA","model":"zhimi.fan.za5"}]}}`
	})
	f.handle(flatDevicesPath, nil, func(string) string {
		return `{"code":0,"result":{"list":[]}}`
	})

	d := NewDirectory(DirectoryConfig{RPC: f.rpc()})
	records, err := d.ListDevices(context.Background(), "")
	require.NoError(t, err, "a failing shared-household lookup must not abort discovery")
	require.Len(t, records, 1)
}

func TestListDevicesModelPrefix(t *testing.T) {
	f := newFakeAPI(t)

	f.handle(ownHomesPath, nil, func(string) string {
		return `{"code":0,"result":{"homelist":[]}}`
	})
	f.handle(sharedHomesPath, nil, func(string) string {
		return `{"code":0,"result":{"share":{"share_family":[]}}}`
	})
	f.handle(flatDevicesPath, nil, func(string) string {
		return `{"code":0,"result":{"list":[
			{"did":"1","mac":"01:01:01:01:01:01","model":"zhimi.airpurifier.ma2"},
			{"did":"2","mac":"02:02:02:02:02:02","model":"zhimi.fan.za5"},
			{"did":"3","mac":"03:03:03:03:03:03","model":"yeelink.light.color3"}]}}`
	})

	d := NewDirectory(DirectoryConfig{RPC: f.rpc()})

	records, err := d.ListDevices(context.Background(), "zhimi.")
	require.NoError(t, err)
	require.Len(t, records, 2)

	all, err := d.ListDevices(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestListDevicesOwnHomesFatal(t *testing.T) {
	f := newFakeAPI(t)
	f.handle(ownHomesPath, nil, func(string) string {
		return `{"code":-1,"message":"internal"}`
	})

	d := NewDirectory(DirectoryConfig{RPC: f.rpc()})
	_, err := d.ListDevices(context.Background(), "")
	require.Error(t, err)
}
