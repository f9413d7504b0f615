package errors

// ConfigError is a specialized error type for configuration loading and
// validation failures. It embeds baseError and adds the section/option
// pair that a TOML file got wrong, so a misconfigured deployment fails
// fast with an actionable message instead of a generic parse error.
type ConfigError struct {
	*baseError
	section string // Config section ("seg", "proxy.backend", ...).
	option  string // Specific option name within the section.
	path    string // Path of the config file being loaded.
}

// NewConfigError creates a new config-specific error.
func NewConfigError(err error, code ErrorCode, msg string) *ConfigError {
	return &ConfigError{baseError: NewBaseError(err, code, msg)}
}

// WithSection records which config section was being processed.
func (ce *ConfigError) WithSection(section string) *ConfigError {
	ce.section = section
	return ce
}

// WithOption records which option within the section failed.
func (ce *ConfigError) WithOption(option string) *ConfigError {
	ce.option = option
	return ce
}

// WithPath records which config file was being loaded.
func (ce *ConfigError) WithPath(path string) *ConfigError {
	ce.path = path
	return ce
}

// Section returns the config section involved.
func (ce *ConfigError) Section() string { return ce.section }

// Option returns the option name involved.
func (ce *ConfigError) Option() string { return ce.option }

// Path returns the config file path involved.
func (ce *ConfigError) Path() string { return ce.path }
