package identity

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/zalando/go-keyring"

	"github.com/quantumlife/worktrail/internal/logging"
)

// KeyRefFile is the name of the key reference file in the data dir.
const KeyRefFile = ".keyref"

// Key sources recorded in the key reference.
const (
	SourceKeyring = "keyring"
	SourceDerived = "derived"
)

const (
	keyringService = "worktrail"
	keyringAccount = "data-key"
)

// KeyRef records where the data key lives. It never holds the key itself.
type KeyRef struct {
	Version   int       `json:"version"`
	Source    string    `json:"source"`
	Service   string    `json:"service,omitempty"`
	Account   string    `json:"account,omitempty"`
	Salt      string    `json:"salt,omitempty"` // Base64 encoded
	CreatedAt time.Time `json:"created_at"`
}

// SecretStore is the OS secret store.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
}

// OSKeyring is the SecretStore backed by the platform keychain.
type OSKeyring struct{}

func (OSKeyring) Get(service, account string) (string, error) {
	return keyring.Get(service, account)
}

func (OSKeyring) Set(service, account, secret string) error {
	return keyring.Set(service, account, secret)
}

// Manager loads or provisions the data key for one data dir.
type Manager struct {
	dataDir string
	secrets SecretStore
	machine func() []byte
	logger  *logging.Logger
}

// NewManager creates a key manager. A nil secrets store means the OS
// keychain; a nil logger means the package default.
func NewManager(dataDir string, secrets SecretStore, logger *logging.Logger) *Manager {
	if secrets == nil {
		secrets = OSKeyring{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		dataDir: dataDir,
		secrets: secrets,
		machine: MachineSecret,
		logger:  logger.Component("identity"),
	}
}

// WithMachineSecret overrides the machine attribute source.
func (m *Manager) WithMachineSecret(fn func() []byte) *Manager {
	m.machine = fn
	return m
}

func (m *Manager) refPath() string {
	return filepath.Join(m.dataDir, KeyRefFile)
}

// DataKey returns the data key, provisioning one on first run. A key that
// went missing from the secret store is replaced; data sealed with the old
// key becomes unreadable.
func (m *Manager) DataKey() ([]byte, error) {
	ref, err := m.loadRef()
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return m.provision()
	}

	switch ref.Source {
	case SourceKeyring:
		encoded, err := m.secrets.Get(ref.Service, ref.Account)
		if err == nil {
			key, decErr := base64.StdEncoding.DecodeString(encoded)
			if decErr == nil && len(key) == KeySize {
				return key, nil
			}
			err = fmt.Errorf("malformed key in secret store")
		}
		if errors.Is(err, keyring.ErrNotFound) {
			m.logger.Warn("data key missing from secret store; provisioning a new one")
		} else {
			m.logger.Warn("secret store unavailable (%v); provisioning a new key", err)
		}
		return m.provision()

	case SourceDerived:
		salt, err := base64.StdEncoding.DecodeString(ref.Salt)
		if err != nil || len(salt) == 0 {
			m.logger.Warn("key reference has an invalid salt; provisioning a new key")
			return m.provision()
		}
		return DeriveKey(m.machine(), salt), nil

	default:
		m.logger.Warn("unknown key source %q; provisioning a new key", ref.Source)
		return m.provision()
	}
}

// Cipher returns a cipher over the data key.
func (m *Manager) Cipher() (*Cipher, error) {
	key, err := m.DataKey()
	if err != nil {
		return nil, err
	}
	return NewCipher(key)
}

func (m *Manager) provision() ([]byte, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	ref := &KeyRef{Version: 1, CreatedAt: time.Now().UTC()}
	if err := m.secrets.Set(keyringService, keyringAccount, base64.StdEncoding.EncodeToString(key)); err == nil {
		ref.Source = SourceKeyring
		ref.Service = keyringService
		ref.Account = keyringAccount
	} else {
		m.logger.Info("secret store unavailable (%v); deriving key from machine attributes", err)
		salt, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		ref.Source = SourceDerived
		ref.Salt = base64.StdEncoding.EncodeToString(salt)
		key = DeriveKey(m.machine(), salt)
	}

	if err := m.saveRef(ref); err != nil {
		return nil, err
	}
	return key, nil
}

func (m *Manager) loadRef() (*KeyRef, error) {
	data, err := os.ReadFile(m.refPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read key reference: %w", err)
	}
	var ref KeyRef
	if err := sonic.Unmarshal(data, &ref); err != nil {
		m.logger.Warn("key reference unreadable: %v", err)
		return nil, nil
	}
	return &ref, nil
}

func (m *Manager) saveRef(ref *KeyRef) error {
	if err := os.MkdirAll(m.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	data, err := sonic.Marshal(ref)
	if err != nil {
		return err
	}
	tmp := m.refPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write key reference: %w", err)
	}
	return os.Rename(tmp, m.refPath())
}

// MachineSecret concatenates stable machine-identifying attributes.
func MachineSecret() []byte {
	parts := []string{runtime.GOOS}
	for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(p); err == nil {
			parts = append(parts, strings.TrimSpace(string(data)))
			break
		}
	}
	if host, err := os.Hostname(); err == nil {
		parts = append(parts, host)
	}
	if u, err := user.Current(); err == nil {
		parts = append(parts, u.Username, u.Uid)
	}
	return []byte(strings.Join(parts, "\x00"))
}
