package publishers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported publisher types.
const (
	TypeSQS       = "sqs"
	TypeSNS       = "sns"
	TypeHTTP      = "http"
	TypeGCPPubSub = "gcp_pubsub"
)

const (
	httpDefaultMethod         = http.MethodPost
	httpDefaultTimeoutSeconds = 5
)

// File is the layout of a publishers file.
type File struct {
	Publishers []PublisherConfig `json:"publishers" yaml:"publishers"`
}

// PublisherConfig is one sink entry. Exactly the block named by Type is used.
type PublisherConfig struct {
	ID        string                    `json:"id" yaml:"id"`
	Type      string                    `json:"type" yaml:"type"`
	Enabled   *bool                     `json:"enabled" yaml:"enabled"`
	SQS       *SQSPublisherConfig       `json:"sqs" yaml:"sqs"`
	SNS       *SNSPublisherConfig       `json:"sns" yaml:"sns"`
	HTTP      *HTTPPublisherConfig      `json:"http" yaml:"http"`
	GCPPubSub *GCPPubSubPublisherConfig `json:"gcp_pubsub" yaml:"gcp_pubsub"`
}

// AWSAccess holds optional static credentials and a custom endpoint
// (LocalStack and similar). Empty keys fall back to the default chain.
type AWSAccess struct {
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// SQSPublisherConfig holds AWS SQS specific settings.
type SQSPublisherConfig struct {
	QueueURL  string `json:"uri" yaml:"uri"`
	AWSAccess `yaml:",inline"`
}

// SNSPublisherConfig holds AWS SNS specific settings.
type SNSPublisherConfig struct {
	TopicARN  string `json:"topic_arn" yaml:"topic_arn"`
	AWSAccess `yaml:",inline"`
}

// GCPPubSubPublisherConfig holds Google Cloud Pub/Sub settings.
type GCPPubSubPublisherConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	Topic           string `json:"topic" yaml:"topic"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
}

// HTTPPublisherConfig holds webhook settings.
type HTTPPublisherConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Method         string            `json:"method" yaml:"method"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
	// Secret signs each payload into the X-Nexlink-Signature header when set.
	Secret string `json:"secret" yaml:"secret"`
}

// block is a type-specific section of a PublisherConfig.
type block interface {
	normalize()
	validate() error
}

func trimAll(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}

func (a *AWSAccess) normalize() {
	trimAll(&a.Region, &a.Endpoint, &a.AccessKeyID, &a.SecretAccessKey)
}

func (a AWSAccess) validate(section string) error {
	if a.Region == "" {
		return fmt.Errorf("%s.region is required", section)
	}
	if (a.AccessKeyID == "") != (a.SecretAccessKey == "") {
		return fmt.Errorf("%s.access_key_id and %s.secret_access_key must be set together", section, section)
	}
	return nil
}

func (c *SQSPublisherConfig) normalize() {
	trimAll(&c.QueueURL)
	c.AWSAccess.normalize()
}

func (c *SQSPublisherConfig) validate() error {
	if c.QueueURL == "" {
		return errors.New("sqs.uri is required")
	}
	return c.AWSAccess.validate(TypeSQS)
}

func (c *SNSPublisherConfig) normalize() {
	trimAll(&c.TopicARN)
	c.AWSAccess.normalize()
}

func (c *SNSPublisherConfig) validate() error {
	if c.TopicARN == "" {
		return errors.New("sns.topic_arn is required")
	}
	return c.AWSAccess.validate(TypeSNS)
}

func (c *GCPPubSubPublisherConfig) normalize() {
	trimAll(&c.ProjectID, &c.Topic, &c.CredentialsFile, &c.Endpoint)
}

func (c *GCPPubSubPublisherConfig) validate() error {
	switch {
	case c.ProjectID == "":
		return errors.New("gcp_pubsub.project_id is required")
	case c.Topic == "":
		return errors.New("gcp_pubsub.topic is required")
	}
	return nil
}

func (c *HTTPPublisherConfig) normalize() {
	trimAll(&c.URL, &c.Method)
	c.Method = strings.ToUpper(c.Method)
	if c.Method == "" {
		c.Method = httpDefaultMethod
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = httpDefaultTimeoutSeconds
	}
	headers := make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			headers[k] = v
		}
	}
	c.Headers = headers
}

func (c *HTTPPublisherConfig) validate() error {
	if c.URL == "" {
		return errors.New("http.url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("http.url %q must be an absolute http(s) URL", c.URL)
	}
	return nil
}

// block returns the section named by cfg.Type.
func (cfg *PublisherConfig) block() (block, error) {
	switch cfg.Type {
	case TypeSQS:
		if cfg.SQS != nil {
			return cfg.SQS, nil
		}
	case TypeSNS:
		if cfg.SNS != nil {
			return cfg.SNS, nil
		}
	case TypeHTTP:
		if cfg.HTTP != nil {
			return cfg.HTTP, nil
		}
	case TypeGCPPubSub:
		if cfg.GCPPubSub != nil {
			return cfg.GCPPubSub, nil
		}
	default:
		return nil, fmt.Errorf("unsupported type %q", cfg.Type)
	}
	return nil, fmt.Errorf("%s block is required", cfg.Type)
}

// Normalize trims fields, lowercases the type and fills defaults in place.
func (cfg *PublisherConfig) Normalize() {
	trimAll(&cfg.ID, &cfg.Type)
	cfg.Type = strings.ToLower(cfg.Type)
	if cfg.Enabled == nil {
		on := true
		cfg.Enabled = &on
	}
	if b, err := cfg.block(); err == nil {
		b.normalize()
	}
}

// Validate checks the entry and the section its type selects.
func (cfg PublisherConfig) Validate() error {
	if cfg.ID == "" {
		return errors.New("id is required")
	}
	if cfg.Type == "" {
		return fmt.Errorf("publisher %q: type is required", cfg.ID)
	}
	b, err := cfg.block()
	if err == nil {
		err = b.validate()
	}
	if err != nil {
		return fmt.Errorf("publisher %q: %w", cfg.ID, err)
	}
	return nil
}

// IsEnabled reports the enabled flag, which defaults to true.
func (cfg PublisherConfig) IsEnabled() bool {
	return cfg.Enabled == nil || *cfg.Enabled
}

// ConfigRegistry is the validated, read-only set of publisher entries.
type ConfigRegistry struct {
	entries []PublisherConfig
	byID    map[string]int
}

// LoadRegistry reads a YAML or JSON publishers file. ${VAR} references are
// expanded from the environment first; unknown fields are rejected.
func LoadRegistry(path string) (*ConfigRegistry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("publishers file path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read publishers file: %w", err)
	}
	file, err := decodeFile(os.ExpandEnv(string(raw)), filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return NewConfigRegistry(file.Publishers)
}

// decodeFile picks the decoder by extension. Anything but .json goes through
// YAML, which also accepts JSON documents.
func decodeFile(data, ext string) (File, error) {
	var f File
	if strings.EqualFold(ext, ".json") {
		dec := json.NewDecoder(strings.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return File{}, fmt.Errorf("decode json publishers: %w", err)
		}
		return f, nil
	}
	dec := yaml.NewDecoder(strings.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, errors.New("publishers file is empty")
		}
		return File{}, fmt.Errorf("decode yaml publishers: %w", err)
	}
	return f, nil
}

// NewConfigRegistry normalizes and validates entries. Ids must be unique.
func NewConfigRegistry(entries []PublisherConfig) (*ConfigRegistry, error) {
	if len(entries) == 0 {
		return nil, errors.New("publishers file contains no publishers entries")
	}
	reg := &ConfigRegistry{
		entries: make([]PublisherConfig, 0, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for i, cfg := range entries {
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("publishers[%d]: %w", i, err)
		}
		if _, dup := reg.byID[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate publisher id %q", cfg.ID)
		}
		reg.byID[cfg.ID] = len(reg.entries)
		reg.entries = append(reg.entries, cfg)
	}
	return reg, nil
}

// ByID returns the entry with the given id.
func (r *ConfigRegistry) ByID(id string) (PublisherConfig, bool) {
	if r == nil {
		return PublisherConfig{}, false
	}
	i, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return PublisherConfig{}, false
	}
	return r.entries[i], true
}

// All returns every entry in file order.
func (r *ConfigRegistry) All() []PublisherConfig {
	if r == nil {
		return nil
	}
	return append([]PublisherConfig(nil), r.entries...)
}

// Enabled returns the entries that are switched on.
func (r *ConfigRegistry) Enabled() []PublisherConfig {
	var out []PublisherConfig
	for _, cfg := range r.All() {
		if cfg.IsEnabled() {
			out = append(out, cfg)
		}
	}
	return out
}
