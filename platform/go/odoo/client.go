package odoo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Config carries the connection settings for one Odoo deployment. Record
// operations authenticate per database with the admin credentials; database
// management (duplicate/drop/list) uses the master password.
type Config struct {
	BaseURL        string
	MasterPassword string
	AdminLogin     string
	AdminPassword  string
	TemplateDB     string
	Timeout        time.Duration
	RetryCount     int
}

// Client talks to Odoo over its JSON-RPC endpoint.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	uids map[string]int // authenticated uid per database
}

// NewClient builds a JSON-RPC client with bounded timeouts and transport-level
// retries with exponential wait.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.AdminLogin == "" {
		cfg.AdminLogin = "admin"
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:   http,
		cfg:    cfg,
		logger: logger,
		uids:   make(map[string]int),
	}
}

type rpcRequest struct {
	Jsonrpc string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type rpcResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// call performs one JSON-RPC request and decodes the result into out (out may
// be nil when the result is irrelevant).
func (c *Client) call(ctx context.Context, service, method string, args []any, out any) error {
	req := rpcRequest{
		Jsonrpc: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      time.Now().UnixNano(),
	}

	var rpcResp rpcResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&rpcResp).
		Post("/jsonrpc")
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %v", ErrRemoteUnavailable, service, method, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s.%s: http %d", ErrRemoteUnavailable, service, method, resp.StatusCode())
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%w: %s.%s: %s", ErrRejectedByERP, service, method, rpcResp.Error.Message)
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode %s.%s result: %w", service, method, err)
		}
	}
	return nil
}

// authenticate resolves (and caches) the admin uid for a database.
func (c *Client) authenticate(ctx context.Context, database string) (int, error) {
	c.mu.Lock()
	if uid, ok := c.uids[database]; ok {
		c.mu.Unlock()
		return uid, nil
	}
	c.mu.Unlock()

	var uid int
	err := c.call(ctx, "common", "authenticate",
		[]any{database, c.cfg.AdminLogin, c.cfg.AdminPassword, map[string]any{}}, &uid)
	if err != nil {
		return 0, err
	}
	if uid == 0 {
		return 0, fmt.Errorf("%w: authentication failed for database %s", ErrRejectedByERP, database)
	}

	c.mu.Lock()
	c.uids[database] = uid
	c.mu.Unlock()
	return uid, nil
}

// ExecuteKw runs a method on an Odoo model within one tenant database.
func (c *Client) ExecuteKw(ctx context.Context, database, model, method string, args []any, kwargs map[string]any, out any) error {
	uid, err := c.authenticate(ctx, database)
	if err != nil {
		return err
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return c.call(ctx, "object", "execute_kw",
		[]any{database, uid, c.cfg.AdminPassword, model, method, args, kwargs}, out)
}

// CreateRecord creates a record and returns its id.
func (c *Client) CreateRecord(ctx context.Context, database, model string, values map[string]any) (int, error) {
	var id int
	if err := c.ExecuteKw(ctx, database, model, "create", []any{values}, nil, &id); err != nil {
		return 0, err
	}
	c.logger.Debug("created odoo record",
		zap.String("database", database), zap.String("model", model), zap.Int("record_id", id))
	return id, nil
}

// UpdateRecord writes values onto an existing record.
func (c *Client) UpdateRecord(ctx context.Context, database, model string, recordID int, values map[string]any) error {
	var ok bool
	return c.ExecuteKw(ctx, database, model, "write", []any{[]int{recordID}, values}, nil, &ok)
}

// ReadRecord fetches one record; fields limits the returned columns when set.
func (c *Client) ReadRecord(ctx context.Context, database, model string, recordID int, fields []string) (map[string]any, error) {
	kwargs := map[string]any{}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}
	var rows []map[string]any
	if err := c.ExecuteKw(ctx, database, model, "read", []any{[]int{recordID}}, kwargs, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s/%d not found in %s", ErrRejectedByERP, model, recordID, database)
	}
	return rows[0], nil
}

// DuplicateDatabase clones the template database into a new tenant database.
func (c *Client) DuplicateDatabase(ctx context.Context, source, target string) error {
	c.logger.Info("duplicating odoo database", zap.String("source", source), zap.String("target", target))
	return c.call(ctx, "db", "duplicate_database", []any{c.cfg.MasterPassword, source, target}, nil)
}

// DropDatabase permanently deletes a tenant database.
func (c *Client) DropDatabase(ctx context.Context, name string) error {
	c.logger.Warn("dropping odoo database", zap.String("database", name))
	return c.call(ctx, "db", "drop", []any{c.cfg.MasterPassword, name}, nil)
}

// ListDatabases returns all databases visible to the Odoo server.
func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.call(ctx, "db", "list", []any{}, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// InstallModules installs the given module set in a tenant database. Modules
// already installed are skipped.
func (c *Client) InstallModules(ctx context.Context, database string, modules []string) error {
	var moduleIDs []int
	domain := []any{
		[]any{"name", "in", modules},
		[]any{"state", "!=", "installed"},
	}
	if err := c.ExecuteKw(ctx, database, "ir.module.module", "search", []any{domain}, nil, &moduleIDs); err != nil {
		return err
	}
	if len(moduleIDs) == 0 {
		return nil
	}
	return c.ExecuteKw(ctx, database, "ir.module.module", "button_immediate_install", []any{moduleIDs}, nil, nil)
}

// InstalledModules lists the technical names of installed modules.
func (c *Client) InstalledModules(ctx context.Context, database string) ([]string, error) {
	var rows []struct {
		Name string `json:"name"`
	}
	domain := []any{[]any{"state", "=", "installed"}}
	kwargs := map[string]any{"fields": []string{"name"}}
	if err := c.ExecuteKw(ctx, database, "ir.module.module", "search_read", []any{domain}, kwargs, &rows); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Name)
	}
	return names, nil
}

// CreateUser creates a tenant user, optionally in the settings admin group.
func (c *Client) CreateUser(ctx context.Context, database, email, name string, isAdmin bool) (int, error) {
	userID, err := c.CreateRecord(ctx, database, "res.users", map[string]any{
		"name":              name,
		"login":             email,
		"email":             email,
		"notification_type": "inbox",
	})
	if err != nil {
		return 0, err
	}

	if isAdmin {
		var groupIDs []int
		domain := []any{
			[]any{"category_id.name", "=", "Administration"},
			[]any{"name", "=", "Settings"},
		}
		if err := c.ExecuteKw(ctx, database, "res.groups", "search", []any{domain}, nil, &groupIDs); err != nil {
			return 0, err
		}
		if len(groupIDs) > 0 {
			values := map[string]any{"groups_id": []any{[]any{4, groupIDs[0]}}}
			if err := c.UpdateRecord(ctx, database, "res.users", userID, values); err != nil {
				return 0, err
			}
		}
	}
	return userID, nil
}

// Health probes the Odoo web endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/web/health")
	if err != nil {
		return fmt.Errorf("%w: health: %v", ErrRemoteUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: health: http %d", ErrRemoteUnavailable, resp.StatusCode())
	}
	return nil
}
