package config

// CLIConfig is the configuration for docsync-cli.
type CLIConfig struct {
	// Server is an HTTP(S) address or the local socket path.
	Server string `koanf:"server" yaml:"server"`
	// AdminKey authenticates admin requests over HTTP.
	AdminKey string `koanf:"admin_key" yaml:"admin_key,omitempty"`
	// Token is the document access token used by edit.
	Token string `koanf:"token" yaml:"token,omitempty"`
	// TokenSecret signs tokens issued by "token issue".
	TokenSecret string `koanf:"token_secret" yaml:"token_secret,omitempty"`
	// Output is table, json or yaml.
	Output string `koanf:"output" yaml:"output"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Server: "http://127.0.0.1:7070",
		Output: "table",
	}
}
