package config

import "os"

// expandEnv expands ${VAR} / $VAR references inside a TOML file's raw bytes
// before parsing, so a committed config file can reference a secret without
// holding it — the same trick as the teacher's envexpand.go, just applied
// to TOML text instead of YAML.
func expandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
