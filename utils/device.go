package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

var httpClient = &http.Client{Timeout: 3 * time.Second}

type ipLookupResp struct {
	IP string `json:"ip"`
}

// simple in-memory TTL cache for the public address
type cacheEntry struct {
	value     string
	expiresAt time.Time
}

var (
	publicIPMu    sync.RWMutex
	publicIPCache = map[string]cacheEntry{}
	publicIPTTL   = 10 * time.Minute
)

// PublicIP returns the device's public address as seen by lookupURL.
// The lookup is cached in memory and, when available, in Redis so restarts while
// offline still report the last known address.
func PublicIP(ctx context.Context, lookupURL string) (string, error) {
	if v, ok := cacheGet(lookupURL); ok {
		return v, nil
	}
	ip, err := fetchPublicIP(ctx, lookupURL)
	if err != nil {
		if v, ok := redisGetIP(ctx); ok {
			return v, nil
		}
		return "", err
	}
	cacheSet(lookupURL, ip)
	redisSetIP(ctx, ip)
	return ip, nil
}

func fetchPublicIP(ctx context.Context, lookupURL string) (string, error) {
	if lookupURL == "" {
		return "", errors.New("ip lookup url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "punchclock/1.0")
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip lookup non-200: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	// both {"ip": "..."} and a bare text body are common
	var parsed ipLookupResp
	if json.Unmarshal(body, &parsed) == nil && parsed.IP != "" {
		body = []byte(parsed.IP)
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("ip lookup returned %q", ip)
	}
	return ip, nil
}

// LocalIP returns the first non-loopback interface address, used when the public lookup fails.
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() && ipn.IP.To4() != nil {
			return ipn.IP.String()
		}
	}
	return ""
}

// DeviceInfo describes the machine the agent runs on.
func DeviceInfo() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s (%s/%s)", host, runtime.GOOS, runtime.GOARCH)
}

func cacheGet(key string) (string, bool) {
	publicIPMu.RLock()
	e, ok := publicIPCache[key]
	publicIPMu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

func cacheSet(key, value string) {
	publicIPMu.Lock()
	publicIPCache[key] = cacheEntry{value: value, expiresAt: time.Now().Add(publicIPTTL)}
	publicIPMu.Unlock()
}

func redisGetIP(ctx context.Context) (string, bool) {
	if redisClient == nil {
		return "", false
	}
	c, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	v, err := redisClient.Get(c, "device:public_ip").Result()
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

func redisSetIP(ctx context.Context, ip string) {
	if redisClient == nil {
		return
	}
	c, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := redisClient.Set(c, "device:public_ip", ip, 24*time.Hour).Err(); err != nil {
		Sugar.Debugf("cache public ip failed err=%v", err)
	}
}
