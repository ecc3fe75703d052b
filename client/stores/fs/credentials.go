// Package fs keeps bookauth client credentials in a JSON file, one entry per
// server. Command line tools use it so a login survives between runs:
//
//	path, _ := fs.DefaultPath("booknotes")
//	creds, err := fs.Open(path)
//	c := client.NewAuthClient("https://books.example.com", creds)
package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/panyam/bookauth/client"
)

const fileVersion = 1

// DefaultPath is credentials.json under the user's config directory
func DefaultPath(appName string) (string, error) {
	if appName == "" {
		appName = "bookauth"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(dir, appName, "credentials.json"), nil
}

type fileContents struct {
	Version int                                `json:"version"`
	Servers map[string]client.ServerCredential `json:"servers"`
}

// CredentialFile implements client.CredentialStore. Changes stay in memory
// until Save. The file holds bearer tokens and is written owner-only.
type CredentialFile struct {
	path string

	mu      sync.Mutex
	servers map[string]client.ServerCredential
	dirty   bool
}

// Open reads the file at path. A missing file is an empty store.
func Open(path string) (*CredentialFile, error) {
	f := &CredentialFile{path: path, servers: map[string]client.ServerCredential{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}

	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("corrupt credentials file %s: %w", path, err)
	}
	if contents.Version > fileVersion {
		return nil, fmt.Errorf("credentials file %s has version %d, newer than this program", path, contents.Version)
	}
	for k, v := range contents.Servers {
		f.servers[k] = v
	}
	return f, nil
}

// serverKey reduces a server URL to scheme://host, so a URL with a path
// shares the credential of its server.
func serverKey(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: no host", serverURL)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host, nil
}

func (f *CredentialFile) GetCredential(serverURL string) (*client.ServerCredential, error) {
	key, err := serverKey(serverURL)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.servers[key]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (f *CredentialFile) SetCredential(serverURL string, cred *client.ServerCredential) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[key] = *cred
	f.dirty = true
	return nil
}

func (f *CredentialFile) RemoveCredential(serverURL string) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.servers[key]; ok {
		delete(f.servers, key)
		f.dirty = true
	}
	return nil
}

func (f *CredentialFile) ListServers() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	servers := make([]string, 0, len(f.servers))
	for k := range f.servers {
		servers = append(servers, k)
	}
	slices.Sort(servers)
	return servers, nil
}

// Save writes pending changes. The new file replaces the old one by rename.
func (f *CredentialFile) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return nil
	}

	data, err := json.MarshalIndent(fileContents{Version: fileVersion, Servers: f.servers}, "", "  ")
	if err != nil {
		return err
	}
	if err := writePrivate(f.path, data); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	f.dirty = false
	return nil
}

func (f *CredentialFile) Path() string {
	return f.path
}

func writePrivate(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
