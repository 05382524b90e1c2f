package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"deepscan/internal/apiclient"
	"deepscan/internal/config"
	"deepscan/internal/services"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) client() (*apiclient.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	target := cfg.Paths.APIURL
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		target = strings.TrimSpace(*c.apiFlag)
	}
	return apiclient.New(target, cfg.Paths.APIToken)
}

// wrapAPIError turns a connection failure into a hint about starting the
// daemon.
func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}
	if apiclient.IsAPIUnavailable(err) {
		return fmt.Errorf("connect to daemon: %w; start it with `deepscan serve` or deepscand", err)
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

// exitCode distinguishes rejected submissions and missing jobs from other
// failures so scripts can react.
func exitCode(err error) int {
	switch {
	case errors.Is(err, services.ErrResourceLimit):
		return 3
	case errors.Is(err, services.ErrNotFound):
		return 4
	case apiclient.IsAPIUnavailable(err):
		return 5
	}
	return 1
}
