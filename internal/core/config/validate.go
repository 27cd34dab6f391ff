package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
	"github.com/robfig/cron/v3"
)

var validCategories = []string{"sales", "inventory", "customers", "system"}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// Validate checks that the configuration is valid. All problems are
// reported at once as criterio.FieldErrors.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		c.validateTransport(),
		c.validateConnection(),
		c.validateStores(),
		c.validateNotifications(),
		c.validateTopics(),
		criterio.Run("metrics.addr", c.Metrics.Addr, listenAddr),
	)
}

// ValidateDeep runs Validate plus checks that touch the environment.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		validateConfigFile(configPath),
	)
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if c.Transport.TokenEnv != "" && os.Getenv(c.Transport.TokenEnv) == "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Transport",
			Item:     c.Transport.TokenEnv,
			Message:  "token variable is not set, connecting without credentials",
		})
	}

	if c.Connection.HeartbeatInterval == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "Connection",
			Item:     "heartbeat_interval",
			Message:  "heartbeats disabled, a silent server will not be detected",
		})
	}

	if len(c.Notifications.DisabledCategories) == len(validCategories) {
		warnings = append(warnings, ValidationWarning{
			Category: "Notifications",
			Item:     "disabled_categories",
			Message:  "every category is disabled, the feed will stay empty",
		})
	}

	return warnings
}

func (c *Config) validateTransport() error {
	var errs criterio.FieldErrorsBuilder
	t := c.Transport

	switch t.Kind {
	case TransportWebsocket:
		if err := urlWithScheme(t.URL, "ws", "wss"); err != nil {
			errs = errs.Append("transport.url", err)
		}
	case TransportPoll:
		if err := urlWithScheme(t.URL, "http", "https"); err != nil {
			errs = errs.Append("transport.url", err)
		}
		if t.PollInterval <= 0 {
			errs = errs.Append("transport.poll_interval", errors.New("must be positive"))
		}
	case TransportRedis:
		if t.Redis.Addr == "" {
			errs = errs.Append("transport.redis.addr", errors.New("is required"))
		}
		if t.Redis.DB < 0 {
			errs = errs.Append("transport.redis.db", errors.New("must not be negative"))
		}
	default:
		errs = errs.Append("transport.kind", fmt.Errorf("unknown transport %q (want websocket, poll or redis)", t.Kind))
	}

	return errs.ToError()
}

func (c *Config) validateConnection() error {
	var errs criterio.FieldErrorsBuilder
	cc := c.Connection

	if cc.MaxReconnectAttempts < 0 {
		errs = errs.Append("connection.max_reconnect_attempts", errors.New("must not be negative"))
	}
	if cc.ReconnectDelay <= 0 {
		errs = errs.Append("connection.reconnect_delay", errors.New("must be positive"))
	}
	if cc.MaxReconnectDelay < cc.ReconnectDelay {
		errs = errs.Append("connection.max_reconnect_delay", errors.New("must be at least reconnect_delay"))
	}
	if cc.Backoff != "linear" && cc.Backoff != "exponential" {
		errs = errs.Append("connection.backoff", fmt.Errorf("unknown backoff %q (want linear or exponential)", cc.Backoff))
	}
	if cc.HeartbeatInterval < 0 {
		errs = errs.Append("connection.heartbeat_interval", errors.New("must not be negative"))
	}
	if cc.StableAfter < 0 {
		errs = errs.Append("connection.stable_after", errors.New("must not be negative"))
	}
	if cc.HeartbeatInterval > 0 && cc.HeartbeatTimeout <= cc.HeartbeatInterval {
		errs = errs.Append("connection.heartbeat_timeout", errors.New("must be greater than heartbeat_interval"))
	}

	return errs.ToError()
}

func (c *Config) validateStores() error {
	var errs criterio.FieldErrorsBuilder
	s := c.Stores

	for field, v := range map[string]int{
		"stores.history_size": s.HistorySize,
		"stores.recent_size":  s.RecentSize,
		"stores.alert_size":   s.AlertSize,
	} {
		if v < 1 {
			errs = errs.Append(field, errors.New("must be at least 1"))
		}
	}

	if _, err := cron.ParseStandard(s.DailyReset); err != nil {
		errs = errs.Append("stores.daily_reset", fmt.Errorf("invalid cron expression: %w", err))
	}
	if _, err := s.Location(); err != nil {
		errs = errs.Append("stores.timezone", err)
	}

	return errs.ToError()
}

func (c *Config) validateNotifications() error {
	var errs criterio.FieldErrorsBuilder
	n := c.Notifications

	if n.MaxItems < 1 {
		errs = errs.Append("notifications.max_items", errors.New("must be at least 1"))
	}
	if n.DedupeSize < 1 {
		errs = errs.Append("notifications.dedupe_size", errors.New("must be at least 1"))
	}
	for i, cat := range n.DisabledCategories {
		if !slices.Contains(validCategories, strings.ToLower(cat)) {
			errs = errs.Append(fmt.Sprintf("notifications.disabled_categories[%d]", i),
				fmt.Errorf("unknown category %q", cat))
		}
	}

	return errs.ToError()
}

func (c *Config) validateTopics() error {
	var errs criterio.FieldErrorsBuilder
	for i, topic := range c.Topics {
		field := fmt.Sprintf("topics[%d]", i)
		switch {
		case strings.TrimSpace(topic) == "":
			errs = errs.Append(field, errors.New("must not be empty"))
		case !doublestar.ValidatePattern(topic):
			errs = errs.Append(field, fmt.Errorf("invalid pattern %q", topic))
		}
	}
	return errs.ToError()
}

func urlWithScheme(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("scheme %q not supported (want %s)", u.Scheme, strings.Join(schemes, " or "))
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

func listenAddr(addr string) error {
	if addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	return nil
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}
