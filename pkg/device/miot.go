package device

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/logging"

	"github.com/miohome/micloud/pkg/cloud"
)

// Device-control endpoints of the standardized miot schema.
const (
	propGetPath = "/miotspec/prop/get"
	propSetPath = "/miotspec/prop/set"
	actionPath  = "/miotspec/action"
)

// DefaultBatchLimit is the largest number of properties read in one call;
// larger requests are split into consecutive batches.
const DefaultBatchLimit = 15

// ControlConfig configures a Control.
type ControlConfig struct {
	// RPC is the authenticated encrypted RPC client. Required.
	RPC *cloud.Client

	// BatchLimit overrides DefaultBatchLimit. Zero means the default.
	BatchLimit int

	// LoggerFactory creates the package logger. If nil, a default factory
	// is used.
	LoggerFactory logging.LoggerFactory
}

// Control reads, writes and invokes the schema-addressed attributes of a
// device.
type Control struct {
	rpc        *cloud.Client
	batchLimit int
	log        logging.LeveledLogger
}

// NewControl creates a Control.
func NewControl(config ControlConfig) *Control {
	limit := config.BatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	factory := config.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}
	return &Control{
		rpc:        config.RPC,
		batchLimit: limit,
		log:        factory.NewLogger("device"),
	}
}

// PropertyRef addresses one attribute in a device's schema.
type PropertyRef struct {
	SIID int `json:"siid"`
	PIID int `json:"piid"`
}

// PropertyValue is one read result. Code zero means the value is usable.
type PropertyValue struct {
	DID   string `json:"did"`
	SIID  int    `json:"siid"`
	PIID  int    `json:"piid"`
	Code  int    `json:"code"`
	Value any    `json:"value"`
}

// propRequest is the wire form of one property address.
type propRequest struct {
	DID  string `json:"did"`
	SIID int    `json:"siid"`
	PIID int    `json:"piid"`
}

// GetProperties reads the given attributes of one device, splitting the
// request into batches of at most the configured limit. Results are
// returned in request order.
func (c *Control) GetProperties(ctx context.Context, deviceID string, refs []PropertyRef) ([]PropertyValue, error) {
	out := make([]PropertyValue, 0, len(refs))
	for start := 0; start < len(refs); start += c.batchLimit {
		end := min(start+c.batchLimit, len(refs))

		batch := make([]propRequest, 0, end-start)
		for _, ref := range refs[start:end] {
			batch = append(batch, propRequest{DID: deviceID, SIID: ref.SIID, PIID: ref.PIID})
		}
		data, err := json.Marshal(struct {
			Params []propRequest `json:"params"`
		}{batch})
		if err != nil {
			return nil, err
		}

		var values []PropertyValue
		if err := c.rpc.CallResult(ctx, propGetPath, cloud.NewParams().With("data", string(data)), &values); err != nil {
			return nil, fmt.Errorf("device: reading properties of %s: %w", deviceID, err)
		}
		out = append(out, values...)
	}
	c.log.Debugf("read %d propert(ies) from %s", len(out), deviceID)
	return out, nil
}

// propWrite is the wire form of one property write.
type propWrite struct {
	DID   string `json:"did"`
	SIID  int    `json:"siid"`
	PIID  int    `json:"piid"`
	Value any    `json:"value"`
}

// SetProperty writes one attribute of one device.
func (c *Control) SetProperty(ctx context.Context, deviceID string, siid, piid int, value any) error {
	data, err := json.Marshal(struct {
		Params []propWrite `json:"params"`
	}{[]propWrite{{DID: deviceID, SIID: siid, PIID: piid, Value: value}}})
	if err != nil {
		return err
	}

	var results []PropertyValue
	if err := c.rpc.CallResult(ctx, propSetPath, cloud.NewParams().With("data", string(data)), &results); err != nil {
		return fmt.Errorf("device: writing %d/%d on %s: %w", siid, piid, deviceID, err)
	}
	if len(results) == 0 {
		return fmt.Errorf("device: writing %d/%d on %s: empty acknowledgement", siid, piid, deviceID)
	}
	if results[0].Code != 0 {
		return fmt.Errorf("device: writing %d/%d on %s: device code %d", siid, piid, deviceID, results[0].Code)
	}
	return nil
}

// ActionResult is the outcome of an action invocation.
type ActionResult struct {
	Code int   `json:"code"`
	Out  []any `json:"out"`
}

// actionInvoke is the wire form of one action invocation.
type actionInvoke struct {
	DID  string `json:"did"`
	SIID int    `json:"siid"`
	AIID int    `json:"aiid"`
	In   []any  `json:"in"`
}

// CallAction invokes a schema-addressed action on one device.
func (c *Control) CallAction(ctx context.Context, deviceID string, siid, aiid int, in []any) (*ActionResult, error) {
	if in == nil {
		in = []any{}
	}
	data, err := json.Marshal(struct {
		Params actionInvoke `json:"params"`
	}{actionInvoke{DID: deviceID, SIID: siid, AIID: aiid, In: in}})
	if err != nil {
		return nil, err
	}

	var result ActionResult
	if err := c.rpc.CallResult(ctx, actionPath, cloud.NewParams().With("data", string(data)), &result); err != nil {
		return nil, fmt.Errorf("device: invoking action %d/%d on %s: %w", siid, aiid, deviceID, err)
	}
	if result.Code != 0 {
		return &result, fmt.Errorf("device: action %d/%d on %s: device code %d", siid, aiid, deviceID, result.Code)
	}
	return &result, nil
}
