// Package config loads and validates run configurations.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	phttp "github.com/wesleyorama2/pipestress/internal/http"
	"github.com/wesleyorama2/pipestress/internal/pipeline"
	"github.com/wesleyorama2/pipestress/internal/script"
)

// RunConfig is the configuration of one pipestress invocation.
//
// Example YAML:
//
//	target:
//	  address: 127.0.0.1:8080
//	bodySizes:
//	  small: 64
//	  big: 65536
//	timeouts:
//	  read: 5s
//	concurrency: 8
//	iterations: 50
//	scenarios: [head_get, post_big]
type RunConfig struct {
	Target      Target    `json:"target" yaml:"target"`
	BodySizes   BodySizes `json:"bodySizes" yaml:"bodySizes"`
	Timeouts    Timeouts  `json:"timeouts" yaml:"timeouts"`
	Concurrency int       `json:"concurrency" yaml:"concurrency"`
	Iterations  int       `json:"iterations" yaml:"iterations"`

	// Rate limits run starts per second across all workers (0 = unlimited)
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// Connection overrides every script's connection policy when set
	Connection string `json:"connection,omitempty" yaml:"connection,omitempty"`

	// Scenarios to run; empty means every registered scenario
	Scenarios []string `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`

	// Scripts are extra scenario files to register
	Scripts []string `json:"scripts,omitempty" yaml:"scripts,omitempty"`

	FailFast   bool `json:"failFast,omitempty" yaml:"failFast,omitempty"`
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`

	// TagRequests adds X-Pipeline-Seq headers (default true)
	TagRequests *bool `json:"tagRequests,omitempty" yaml:"tagRequests,omitempty"`
}

// Target describes the server under test.
type Target struct {
	Address            string `json:"address" yaml:"address"`
	TLS                bool   `json:"tls,omitempty" yaml:"tls,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	ServerName         string `json:"serverName,omitempty" yaml:"serverName,omitempty"`
}

// BodySizes maps body size classes to byte counts.
type BodySizes struct {
	Small int `json:"small" yaml:"small"`
	Big   int `json:"big" yaml:"big"`
}

// Timeouts bounds the transport operations of a run.
type Timeouts struct {
	Dial  Duration `json:"dial,omitempty" yaml:"dial,omitempty"`
	Read  Duration `json:"read,omitempty" yaml:"read,omitempty"`
	Write Duration `json:"write,omitempty" yaml:"write,omitempty"`

	// HeadBody is how long to watch for a body after a HEAD response
	HeadBody Duration `json:"headBody,omitempty" yaml:"headBody,omitempty"`
}

// Default values.
const (
	DefaultAddress     = "127.0.0.1:8080"
	DefaultConcurrency = 1
	DefaultIterations  = 1
)

// Default returns a configuration with every default applied.
func Default() *RunConfig {
	c := &RunConfig{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields with their defaults.
func (c *RunConfig) ApplyDefaults() {
	if c.Target.Address == "" {
		c.Target.Address = DefaultAddress
	}

	sizes := phttp.DefaultBodySizes()
	if c.BodySizes.Small == 0 {
		c.BodySizes.Small = sizes.Small
	}
	if c.BodySizes.Big == 0 {
		c.BodySizes.Big = sizes.Big
	}

	transport := pipeline.DefaultConfig()
	if c.Timeouts.Dial == 0 {
		c.Timeouts.Dial = Duration(transport.DialTimeout)
	}
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = Duration(transport.ReadTimeout)
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = Duration(transport.WriteTimeout)
	}
	if c.Timeouts.HeadBody == 0 {
		c.Timeouts.HeadBody = Duration(transport.HeadBodyWait)
	}

	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Iterations == 0 {
		c.Iterations = DefaultIterations
	}
	if c.TagRequests == nil {
		tag := true
		c.TagRequests = &tag
	}
}

// Endpoint returns the target as a driver endpoint.
func (c *RunConfig) Endpoint() pipeline.Endpoint {
	return pipeline.Endpoint{
		Address:            c.Target.Address,
		TLS:                c.Target.TLS,
		InsecureSkipVerify: c.Target.InsecureSkipVerify,
		ServerName:         c.Target.ServerName,
	}
}

// Sizes returns the body size classes for the request builder.
func (c *RunConfig) Sizes() phttp.BodySizes {
	return phttp.BodySizes{Small: c.BodySizes.Small, Big: c.BodySizes.Big}
}

// DriverConfig returns the transport settings for the pipeline driver.
func (c *RunConfig) DriverConfig() pipeline.Config {
	cfg := pipeline.Config{
		DialTimeout:  time.Duration(c.Timeouts.Dial),
		ReadTimeout:  time.Duration(c.Timeouts.Read),
		WriteTimeout: time.Duration(c.Timeouts.Write),
		HeadBodyWait: time.Duration(c.Timeouts.HeadBody),
		TagRequests:  c.TagRequests == nil || *c.TagRequests,
		Connection:   script.ConnectionPolicy(c.Connection),
	}
	return cfg
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings
// such as "30s" or "1m30s". A bare integer is taken as seconds.
type Duration time.Duration

// ParseDuration parses a duration string. A bare integer is taken as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = 0
		return nil
	}
	s = strings.Trim(s, `"`)

	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
