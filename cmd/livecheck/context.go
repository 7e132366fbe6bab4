package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"livecheck/internal/config"
	"livecheck/internal/daemonctl"
	"livecheck/internal/ipc"
)

const defaultRequestTimeout = 10 * time.Second

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// client builds an API client honoring --api. A zero timeout uses the
// default request timeout.
func (c *commandContext) client(timeout time.Duration) (*ipc.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if c.apiFlag != nil {
		if base := strings.TrimSpace(*c.apiFlag); base != "" {
			return ipc.NewClient(base, cfg.Paths.APIToken, timeout), nil
		}
	}
	return daemonctl.NewClient(cfg, timeout), nil
}

func (c *commandContext) withClient(timeout time.Duration, fn func(*ipc.Client) error) error {
	client, err := c.client(timeout)
	if err != nil {
		return err
	}
	return wrapUnavailable(fn(client), client.BaseURL())
}

func wrapUnavailable(err error, base string) error {
	if errors.Is(err, ipc.ErrUnavailable) {
		return fmt.Errorf("connect to daemon at %s (start it with `livecheck daemon start`): %w", base, err)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
