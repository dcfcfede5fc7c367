package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud/openstack"
	"github.com/google/uuid"
)

// Error types understood by the orchestrator.
const (
	ErrorTypeCloud            = "Bosh::Clouds::CloudError"
	ErrorTypeVMCreationFailed = "Bosh::Clouds::VMCreationFailed"
	ErrorTypeNotImplemented   = "Bosh::Clouds::NotImplemented"
	ErrorTypeCPI              = "Bosh::Clouds::CpiError"
)

// StemcellFormats are the stemcell formats accepted by create_stemcell.
var StemcellFormats = []string{"rackspace-light"}

// Request is one CPI call read from stdin.
type Request struct {
	Method    string         `json:"method"`
	Arguments []any          `json:"arguments"`
	Context   map[string]any `json:"context"`
}

// Response is the single JSON document written to stdout.
type Response struct {
	Result any            `json:"result"`
	Error  *ResponseError `json:"error"`
	Log    string         `json:"log"`
}

// ResponseError describes a failed call.
type ResponseError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	OkToRetry bool   `json:"ok_to_retry"`
}

// argumentError reports malformed CPI arguments.
type argumentError struct {
	method string
	msg    string
}

func (e *argumentError) Error() string {
	return fmt.Sprintf("Invalid arguments for %s: %s", e.method, e.msg)
}

type notImplementedError struct {
	method string
}

func (e *notImplementedError) Error() string {
	return fmt.Sprintf("`%s' is not implemented", e.method)
}

// ConnectFunc builds the Cloud used to serve a request. It is only called for methods that
// need the provider.
type ConnectFunc func(ctx context.Context) (*Cloud, error)

// Dispatcher routes CPI requests to Cloud operations.
type Dispatcher struct {
	Connect ConnectFunc
	Logger  *slog.Logger
}

// Serve reads one request from in and writes its response to out. Failures of the operation
// are reported inside the response; the returned error is only about I/O.
func (d *Dispatcher) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	var req Request
	var resp Response

	if err := json.NewDecoder(in).Decode(&req); err != nil {
		resp = Response{Error: &ResponseError{
			Type:    ErrorTypeCPI,
			Message: fmt.Sprintf("Invalid request: %v", err),
		}}
	} else {
		resp = d.Dispatch(ctx, req)
	}

	enc := json.NewEncoder(out)
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}

// Dispatch runs a single request and converts its outcome into a Response.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	requestID, _ := req.Context["request_id"].(string)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger = logger.With("method", req.Method, "request_id", requestID)

	logger.Debug("Handling CPI request", "arguments", len(req.Arguments))

	result, err := d.dispatch(ctx, req, logger)
	if err != nil {
		logger.Error("CPI request failed", "error", err)
		return Response{Error: toResponseError(err)}
	}

	logger.Debug("CPI request completed")
	return Response{Result: result}
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request, logger *slog.Logger) (any, error) {
	switch req.Method {
	case "info":
		return map[string]any{"stemcell_formats": StemcellFormats}, nil
	case "create_stemcell", "delete_stemcell", "create_vm", "delete_vm", "reboot_vm", "has_vm",
		"set_vm_metadata", "configure_networks", "create_disk", "delete_disk", "attach_disk",
		"detach_disk", "get_disks", "snapshot_disk", "delete_snapshot":
	default:
		return nil, &notImplementedError{method: req.Method}
	}

	args := arguments{method: req.Method, values: req.Arguments}

	// Arguments are validated before connecting to the provider.
	call, err := d.bind(args)
	if err != nil {
		return nil, err
	}

	if d.Connect == nil {
		return nil, cloud.ConfigurationError("No cloud connection configured")
	}
	c, err := d.Connect(ctx)
	if err != nil {
		return nil, err
	}
	c.logger = logger

	return call(ctx, c)
}

type operation func(ctx context.Context, c *Cloud) (any, error)

// bind parses the positional arguments of a method into a ready-to-run operation.
func (d *Dispatcher) bind(args arguments) (operation, error) {
	switch args.method {
	case "create_stemcell":
		imagePath, err := args.String(0)
		if err != nil {
			return nil, err
		}
		props, err := args.Object(1, false)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *Cloud) (any, error) {
			return c.CreateStemcell(ctx, imagePath, props)
		}, nil

	case "delete_stemcell":
		id, err := args.String(0)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *Cloud) (any, error) {
			return nil, c.DeleteStemcell(ctx, id)
		}, nil

	case "create_vm":
		agentID, err := args.String(0)
		if err != nil {
			return nil, err
		}
		stemcellID, err := args.String(1)
		if err != nil {
			return nil, err
		}
		resourcePool, err := args.Object(2, false)
		if err != nil {
			return nil, err
		}
		networks, err := args.Object(3, false)
		if err != nil {
			return nil, err
		}
		locality, err := args.StringList(4)
		if err != nil {
			return nil, err
		}
		env, err := args.Object(5, true)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *Cloud) (any, error) {
			return c.CreateVM(ctx, agentID, stemcellID, resourcePool, networks, locality, env)
		}, nil

	case "delete_vm", "reboot_vm", "has_vm", "get_disks":
		serverID, err := args.String(0)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *Cloud) (any, error) {
			switch args.method {
			case "delete_vm":
				return nil, c.DeleteVM(ctx, serverID)
			case "reboot_vm":
				return nil, c.RebootVM(ctx, serverID)
			case "has_vm":
				return c.HasVM(ctx, serverID)
			default:
				return c.GetDisks(ctx, serverID)
			}
		}, nil

	case "set_vm_metadata", "configure_networks":
		serverID, err := args.String(0)
		if err != nil {
			return nil, err
		}
		values, err := args.Object(1, false)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *Cloud) (any, error) {
			if args.method == "set_vm_metadata" {
				return nil, c.SetVMMetadata(ctx, serverID, values)
			}
			return nil, c.ConfigureNetworks(ctx, serverID, values)
		}, nil

	case "create_disk":
		size, err := args.Size(0)
		if err != nil {
			return nil, err
		}
		serverID, err := args.ServerHint()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *Cloud) (any, error) {
			return c.CreateDisk(ctx, size, serverID)
		}, nil

	case "delete_disk", "delete_snapshot":
		id, err := args.String(0)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *Cloud) (any, error) {
			if args.method == "delete_disk" {
				return nil, c.DeleteDisk(ctx, id)
			}
			return nil, c.DeleteSnapshot(ctx, id)
		}, nil

	case "attach_disk", "detach_disk":
		serverID, err := args.String(0)
		if err != nil {
			return nil, err
		}
		volumeID, err := args.String(1)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *Cloud) (any, error) {
			if args.method == "attach_disk" {
				return nil, c.AttachDisk(ctx, serverID, volumeID)
			}
			return nil, c.DetachDisk(ctx, serverID, volumeID)
		}, nil

	case "snapshot_disk":
		volumeID, err := args.String(0)
		if err != nil {
			return nil, err
		}
		metadata, err := args.Object(1, true)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *Cloud) (any, error) {
			return c.SnapshotDisk(ctx, volumeID, metadata)
		}, nil
	}

	return nil, &notImplementedError{method: args.method}
}

func toResponseError(err error) *ResponseError {
	var vmErr *cloud.VMCreationFailedError
	var argErr *argumentError
	var niErr *notImplementedError

	switch {
	case errors.As(err, &vmErr):
		return &ResponseError{Type: ErrorTypeVMCreationFailed, Message: err.Error(), OkToRetry: vmErr.OkToRetry}
	case errors.As(err, &niErr):
		return &ResponseError{Type: ErrorTypeNotImplemented, Message: err.Error()}
	case errors.As(err, &argErr):
		return &ResponseError{Type: ErrorTypeCPI, Message: err.Error()}
	default:
		return &ResponseError{Type: ErrorTypeCloud, Message: err.Error()}
	}
}

// arguments gives typed access to the positional arguments of a request.
type arguments struct {
	method string
	values []any
}

func (a arguments) get(i int) any {
	if i < len(a.values) {
		return a.values[i]
	}
	return nil
}

func (a arguments) invalid(format string, args ...any) error {
	return &argumentError{method: a.method, msg: fmt.Sprintf(format, args...)}
}

func (a arguments) String(i int) (string, error) {
	s, ok := a.get(i).(string)
	if !ok || s == "" {
		return "", a.invalid("argument %d: string expected, %s provided", i, cloud.TypeName(a.get(i)))
	}
	return s, nil
}

// Object returns an object argument. Optional arguments may be absent or null.
func (a arguments) Object(i int, optional bool) (map[string]any, error) {
	v := a.get(i)
	if v == nil {
		if optional {
			return nil, nil
		}
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, a.invalid("argument %d: object expected, %s provided", i, cloud.TypeName(v))
	}
	return m, nil
}

func (a arguments) StringList(i int) ([]string, error) {
	v := a.get(i)
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, a.invalid("argument %d: array expected, %s provided", i, cloud.TypeName(v))
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, a.invalid("argument %d: array of strings expected", i)
		}
		out = append(out, s)
	}
	return out, nil
}

// Size parses a disk size in MiB.
func (a arguments) Size(i int) (int, error) {
	return openstack.ParseVolumeSize(a.get(i))
}

// ServerHint returns the optional server id of create_disk, which is passed either as the
// second argument or after the disk cloud properties.
func (a arguments) ServerHint() (string, error) {
	switch v := a.get(1).(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case map[string]any:
		s, _ := a.get(2).(string)
		return s, nil
	default:
		return "", a.invalid("argument 1: string or object expected, %s provided", cloud.TypeName(v))
	}
}
