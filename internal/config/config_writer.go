package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const defaultYAML = `# reachcheck configuration
ping:
  count: 5           # echo requests per cycle
  wait: 200          # milliseconds between replies and the next request
  timeout: 1         # seconds to wait for each reply
  payload_size: 192
  mode: raw          # raw needs root or CAP_NET_RAW; unprivileged uses datagram ICMP
  pps_cap: 0         # process-wide probes per second, 0 disables
mtr:
  path: mtr
  paras: "-c 3 -r --no-dns"
  timeout: 60
run:
  workers: 32
  duration: 0        # seconds; 0 runs a single pass
  batch_delay: 1000  # milliseconds between batches
  hosts_file: iplist
  record_dir: .
  summary: false
  watch_hosts: true
log:
  level: info
  file: ""
monitoring:
  addr: ""           # e.g. 127.0.0.1:9464
sinks:
  postgres_dsn: ""
  influx_url: ""
  influx_token: ""
  influx_org: ""
  influx_bucket: ""
  queue_capacity: 4096
`

const defaultTOML = `# reachcheck configuration
[ping]
count = 5
wait = 200
timeout = 1
payload_size = 192
mode = "raw"
pps_cap = 0

[mtr]
path = "mtr"
paras = "-c 3 -r --no-dns"
timeout = 60

[run]
workers = 32
duration = 0
batch_delay = 1000
hosts_file = "iplist"
record_dir = "."
summary = false
watch_hosts = true

[log]
level = "info"
file = ""

[monitoring]
addr = ""

[sinks]
postgres_dsn = ""
influx_url = ""
influx_token = ""
influx_org = ""
influx_bucket = ""
queue_capacity = 4096
`

// ErrExists is returned by WriteDefault when path is already present.
var ErrExists = errors.New("config file already exists")

// WriteDefault writes a commented default configuration to path in the
// format its extension selects. An existing file is never overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("write default config %q: %w", path, ErrExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("check config %q: %w", path, err)
	}

	data := []byte(defaultYAML)
	if isTOML(path) {
		data = []byte(defaultTOML)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("ensure config dir %q: %w", dir, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write temp config %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit config %q: %w", path, err)
	}

	return nil
}
