package config

import (
	"fmt"
	"os"
)

// Template is a commented config with every key set to its default.
const Template = `node_name = "blockgate"
listen_addr = ":25565"
admin_addr = "127.0.0.1:7070"
cors_origins = ["http://localhost:3000"]
# trace|debug|info|warn|error; empty keeps BLOCKGATE_LOG_LEVEL or info
log_level = ""

[cluster]
url = "nats://127.0.0.1:4222"
name = "blockgate"
subject_prefix = "blockgate"
# joins retry only while the cluster reports itself unavailable
max_retries = 5
retry_delay = "4s"
# a multiplier above 1 grows the delay per attempt, capped by retry_max_delay
# when that is non-zero; jitter scales each delay by 0.5 to 1.5
retry_multiplier = 1.0
retry_max_delay = "0s"
retry_jitter = false
connect_timeout = "5s"

[compression]
# bodies of at least this many bytes are compressed once enabled; -1 disables
threshold = 256
# zlib|snappy|lz4
codec = "zlib"

[sink]
idle_grace = "30s"
reap_interval = "5s"
mailbox_size = 64
`

// WriteTemplate writes Template to path, refusing to replace an existing
// file unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}
