package keys

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrNoPassphrase    = errors.New("keystore passphrase is empty")
)

// Manager is a keystore-backed Signer for every account in dir.
type Manager struct {
	ks         *keystore.KeyStore
	passphrase string
	dir        string
}

func NewManager(dir string, passphrase string) (*Manager, error) {
	return NewManagerWithScrypt(dir, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
}

// NewManagerWithScrypt allows cheaper key derivation, for tests and dev setups.
func NewManagerWithScrypt(dir string, passphrase string, scryptN, scryptP int) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("keystore dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	ks := keystore.NewKeyStore(dir, scryptN, scryptP)
	return &Manager{ks: ks, passphrase: passphrase, dir: dir}, nil
}

func (m *Manager) CreateAccount() (common.Address, error) {
	if m.passphrase == "" {
		return common.Address{}, ErrNoPassphrase
	}
	acct, err := m.ks.NewAccount(m.passphrase)
	if err != nil {
		return common.Address{}, err
	}
	return acct.Address, nil
}

// ImportPrivateKey stores a raw hex key in the keystore.
func (m *Manager) ImportPrivateKey(hexKey string) (common.Address, error) {
	if m.passphrase == "" {
		return common.Address{}, ErrNoPassphrase
	}
	key, err := parsePrivateKey(hexKey)
	if err != nil {
		return common.Address{}, err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	if m.ks.HasAddress(addr) {
		return addr, nil
	}
	acct, err := m.ks.ImportECDSA(key, m.passphrase)
	if err != nil {
		return common.Address{}, err
	}
	return acct.Address, nil
}

func (m *Manager) Accounts() []common.Address {
	acctList := m.ks.Accounts()
	out := make([]common.Address, 0, len(acctList))
	for _, acct := range acctList {
		out = append(out, acct.Address)
	}
	return out
}

func (m *Manager) FindAccount(addr common.Address) (accounts.Account, error) {
	for _, acct := range m.ks.Accounts() {
		if acct.Address == addr {
			return acct, nil
		}
	}
	return accounts.Account{}, ErrAccountNotFound
}

func (m *Manager) SignTransaction(addr common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if m.passphrase == "" {
		return nil, ErrNoPassphrase
	}
	acct, err := m.FindAccount(addr)
	if err != nil {
		return nil, err
	}
	return m.ks.SignTxWithPassphrase(acct, m.passphrase, tx, chainID)
}

func (m *Manager) ExportKeyJSON(addr common.Address) ([]byte, error) {
	acct, err := m.FindAccount(addr)
	if err != nil {
		return nil, err
	}
	if acct.URL.Path == "" {
		return nil, errors.New("keystore path not found")
	}
	return os.ReadFile(acct.URL.Path)
}

func (m *Manager) ExportPrivateKeyHex(addr common.Address) (string, error) {
	keyJSON, err := m.ExportKeyJSON(addr)
	if err != nil {
		return "", err
	}
	if m.passphrase == "" {
		return "", ErrNoPassphrase
	}
	key, err := keystore.DecryptKey(keyJSON, m.passphrase)
	if err != nil {
		return "", err
	}
	if key.PrivateKey == nil {
		return "", errors.New("private key not available")
	}
	return hexutil.Encode(crypto.FromECDSA(key.PrivateKey)), nil
}

func (m *Manager) KeystoreDir() string {
	return filepath.Clean(m.dir)
}

func (m *Manager) PassphraseSet() bool {
	return m.passphrase != ""
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("private key is empty")
	}
	return crypto.HexToECDSA(hexKey)
}
