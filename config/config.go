// Package config loads framework settings from rpc.properties, a flat
// key=value file in the working directory. Environment variables of the
// form RPC_SERVER_PORT override file values (dots become underscores).
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"lite-rpc/netutil"
)

// DefaultConfigFile is looked up in the working directory.
const DefaultConfigFile = "rpc.properties"

var (
	mu    sync.RWMutex
	props = map[string]string{}
	once  sync.Once
)

// load reads the default config file once. A missing file is fine; every
// getter has a default.
func load() {
	once.Do(func() {
		if err := LoadFile(DefaultConfigFile); err != nil {
			if !os.IsNotExist(err) {
				log.Warn("config file unreadable, using defaults", "file", DefaultConfigFile, "err", err)
			}
		}
	})
}

// LoadFile merges key=value pairs from path into the property set.
// Blank lines and lines starting with # or ! are skipped.
func LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	mu.Lock()
	defer mu.Unlock()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		props[key] = strings.TrimSpace(line[idx+1:])
	}
	log.Info("configuration loaded", "file", path, "keys", len(props))
	return scanner.Err()
}

// Set overrides one property, mainly a test seam.
func Set(key, value string) {
	mu.Lock()
	props[key] = value
	mu.Unlock()
}

func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Get returns the property value, preferring the environment override.
func Get(key, defaultValue string) string {
	load()
	if v, ok := os.LookupEnv(envKey(key)); ok {
		return v
	}
	mu.RLock()
	defer mu.RUnlock()
	if v, ok := props[key]; ok {
		return v
	}
	return defaultValue
}

// GetInt returns an integer property, falling back on parse failure.
func GetInt(key string, defaultValue int) int {
	v := Get(key, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("invalid integer config value", "key", key, "value", v, "default", defaultValue)
		return defaultValue
	}
	return n
}

// GetBool returns a boolean property, falling back on parse failure.
func GetBool(key string, defaultValue bool) bool {
	v := Get(key, "")
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// RegistryAddress returns the registry host:port. Required for the remote
// backend; the default only suits local development.
func RegistryAddress() string {
	return Get("rpc.registry.address", "127.0.0.1:8000")
}

// RegistryType selects the registry backend.
func RegistryType() string {
	return Get("rpc.registry.type", "remote")
}

// ServerIP returns the provider bind IP, auto-detecting the LAN address
// when unset.
func ServerIP() string {
	if ip := Get("rpc.server.ip", ""); ip != "" {
		return ip
	}
	return netutil.LocalIP()
}

// ServerPort returns the provider listen port.
func ServerPort() int {
	return GetInt("rpc.server.port", 9000)
}

// ClientTimeout returns the default consumer call timeout.
func ClientTimeout() time.Duration {
	return time.Duration(GetInt("rpc.client.timeout", 5000)) * time.Millisecond
}

// The rpc.server.use.simple.json and rpc.client.use.simple.json switches
// found in older property files are accepted and ignored: the framed JSON
// form is the only codec.

