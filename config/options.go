// Package config loads connection-manager options from YAML.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wsmux/wsmux/conn"
	"github.com/wsmux/wsmux/errs"
)

// File mirrors the on-disk YAML shape for conn.Options. Duration fields are
// plain strings (e.g. "30s") so the file stays hand-editable.
type File struct {
	SocketNoDataTimeout          string `yaml:"socket_no_data_timeout"`
	AutoReconnect                *bool  `yaml:"auto_reconnect"`
	ReconnectInterval            string `yaml:"reconnect_interval"`
	MaxReconnectTries            *int   `yaml:"max_reconnect_tries"`
	MaxResubscribeTries          *int   `yaml:"max_resubscribe_tries"`
	MaxConcurrentResubscriptions int    `yaml:"max_concurrent_resubscriptions"`
	OutputOriginalData           bool   `yaml:"output_original_data"`
	ContinueOnQueryResponse      bool   `yaml:"continue_on_query_response"`
	UnhandledMessageExpected     bool   `yaml:"unhandled_message_expected"`
}

// Load reads a YAML options file from path, applying conn.DefaultOptions for
// any field left zero-valued in the file.
func Load(path string) (conn.Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return conn.Options{}, errs.New(path, errs.CodeInvalid, errs.WithMessage("read options file"), errs.WithCause(err))
	}
	return Parse(raw)
}

// Parse decodes YAML bytes into conn.Options, layering them over the defaults.
func Parse(raw []byte) (conn.Options, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return conn.Options{}, errs.New("", errs.CodeInvalid, errs.WithMessage("decode options yaml"), errs.WithCause(err))
	}
	return normalise(f)
}

func normalise(f File) (conn.Options, error) {
	opts := conn.DefaultOptions()

	if f.SocketNoDataTimeout != "" {
		d, err := time.ParseDuration(f.SocketNoDataTimeout)
		if err != nil {
			return conn.Options{}, errs.New("", errs.CodeInvalid, errs.WithMessage("parse socket_no_data_timeout"), errs.WithCause(err))
		}
		opts.SocketNoDataTimeout = d
	}
	if f.AutoReconnect != nil {
		opts.AutoReconnect = *f.AutoReconnect
	}
	if f.ReconnectInterval != "" {
		d, err := time.ParseDuration(f.ReconnectInterval)
		if err != nil {
			return conn.Options{}, errs.New("", errs.CodeInvalid, errs.WithMessage("parse reconnect_interval"), errs.WithCause(err))
		}
		opts.ReconnectInterval = d
	}
	opts.MaxReconnectTries = f.MaxReconnectTries
	opts.MaxResubscribeTries = f.MaxResubscribeTries
	if f.MaxConcurrentResubscriptions > 0 {
		opts.MaxConcurrentResubscriptions = f.MaxConcurrentResubscriptions
	}
	opts.OutputOriginalData = f.OutputOriginalData
	opts.ContinueOnQueryResponse = f.ContinueOnQueryResponse
	opts.UnhandledMessageExpected = f.UnhandledMessageExpected

	return opts.Normalized(), nil
}
