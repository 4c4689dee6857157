package clearnode

import (
	"crypto/ecdsa"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "VelocityVault/internal/errors"
)

// Signer produces a recoverable secp256k1 signature over a request payload.
type Signer interface {
	Address() common.Address
	Sign(payload []byte) ([]byte, error)
}

// KeySigner signs with an in-memory private key. The key can be wiped with Zero.
type KeySigner struct {
	mu      sync.RWMutex
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSessionSigner generates a fresh key for one session.
func NewSessionSigner() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInternal, err, "生成会话密钥失败")
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewKeySigner loads a hex encoded private key, with or without the 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "private key is empty")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "invalid private key")
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address 返回签名者地址。密钥清除后地址保持不变，仅用于日志展示。
func (s *KeySigner) Address() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

// Sign 对 payload 做 keccak256 后签名，V 取值为 27/28。
func (s *KeySigner) Sign(payload []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, xerrors.New(xerrors.CodePrecondition, "session key has been discarded")
	}
	sig, err := crypto.Sign(crypto.Keccak256(payload), s.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInternal, err, "签名失败")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Zero overwrites the private scalar and drops the key.
func (s *KeySigner) Zero() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return
	}
	if s.key.D != nil {
		words := s.key.D.Bits()
		for i := range words {
			words[i] = 0
		}
		s.key.D.SetInt64(0)
	}
	s.key = nil
}

// Discarded reports whether Zero has been called.
func (s *KeySigner) Discarded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key == nil
}

// RecoverSigner 从签名还原签名者地址，供测试与审计使用。
func RecoverSigner(payload []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeValidation, err, "invalid signature encoding")
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, xerrors.New(xerrors.CodeValidation, "invalid signature length")
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(payload), sig)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeValidation, err, "recover signer")
	}
	return crypto.PubkeyToAddress(*pub), nil
}
