package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported hashing algorithms. The algorithm is encoded in every digest so
// stored hashes keep verifying after the configuration changes.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 8
	MaxPasswordLen    = 128

	// BcryptMaxBytes is the longest input bcrypt accepts
	BcryptMaxBytes = 72
)

// Rule is a single composable password requirement
type Rule struct {
	Name    string
	Message string
	Check   func(password string) bool
}

// StrengthResult reports every violated rule, not just the first
type StrengthResult struct {
	OK         bool
	Violations []string
}

// Policy is an ordered list of rules
type Policy struct {
	rules []Rule
}

// NewPolicy builds a policy from rules
func NewPolicy(rules ...Rule) *Policy {
	return &Policy{rules: rules}
}

// Rules returns a copy of the configured rules
func (p *Policy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

// Validate checks the password against every rule
func (p *Policy) Validate(password string) StrengthResult {
	violations := make([]string, 0)
	for _, rule := range p.rules {
		if !rule.Check(password) {
			violations = append(violations, rule.Message)
		}
	}
	return StrengthResult{OK: len(violations) == 0, Violations: violations}
}

func MinLength(n int) Rule {
	return Rule{
		Name:    "min_length",
		Message: fmt.Sprintf("must be at least %d characters", n),
		Check:   func(p string) bool { return len([]rune(p)) >= n },
	}
}

func MaxLength(n int) Rule {
	return Rule{
		Name:    "max_length",
		Message: fmt.Sprintf("must be at most %d characters", n),
		Check:   func(p string) bool { return len([]rune(p)) <= n },
	}
}

// MaxBytes bounds the encoded length, which is what a hasher consumes
func MaxBytes(n int) Rule {
	return Rule{
		Name:    "max_bytes",
		Message: fmt.Sprintf("must be at most %d bytes", n),
		Check:   func(p string) bool { return len(p) <= n },
	}
}

func RequireUpper() Rule {
	return Rule{
		Name:    "uppercase",
		Message: "must contain at least one uppercase letter",
		Check:   containsAny(unicode.IsUpper),
	}
}

func RequireLower() Rule {
	return Rule{
		Name:    "lowercase",
		Message: "must contain at least one lowercase letter",
		Check:   containsAny(unicode.IsLower),
	}
}

func RequireDigit() Rule {
	return Rule{
		Name:    "digit",
		Message: "must contain at least one digit",
		Check:   containsAny(unicode.IsDigit),
	}
}

func RequireSymbol() Rule {
	return Rule{
		Name:    "symbol",
		Message: "must contain at least one special character",
		Check: containsAny(func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		}),
	}
}

// RejectCommon rejects passwords found in list (case-insensitive)
func RejectCommon(list []string) Rule {
	common := make(map[string]struct{}, len(list))
	for _, p := range list {
		common[strings.ToLower(p)] = struct{}{}
	}
	return Rule{
		Name:    "common",
		Message: "is too common, please choose a more unique password",
		Check: func(p string) bool {
			_, found := common[strings.ToLower(p)]
			return !found
		},
	}
}

func containsAny(pred func(rune) bool) func(string) bool {
	return func(p string) bool {
		for _, r := range p {
			if pred(r) {
				return true
			}
		}
		return false
	}
}

// CommonPasswords is the default deny-list used by RejectCommon
var CommonPasswords = []string{
	"password", "12345678", "qwerty", "abc123", "password123", "password123!",
	"123456", "admin", "letmein", "welcome", "monkey", "dragon", "master",
	"123123", "passw0rd", "shadow", "sunshine", "princess", "starwars",
	"football", "trustno1", "p@ssw0rd", "p@ssword1",
}

// PolicyConfig describes a policy in configuration terms
type PolicyConfig struct {
	// Algorithm is the hasher the policy feeds; empty means bcrypt
	Algorithm     string
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
	RejectCommon  bool
}

// PolicyFromConfig turns configuration into a rule list
func PolicyFromConfig(cfg PolicyConfig) *Policy {
	minLen := cfg.MinLength
	if minLen <= 0 {
		minLen = MinPasswordLen
	}
	maxLen := cfg.MaxLength
	if maxLen <= 0 {
		maxLen = MaxPasswordLen
	}

	rules := []Rule{MinLength(minLen), MaxLength(maxLen)}
	if cfg.Algorithm == "" || cfg.Algorithm == AlgorithmBcrypt {
		rules = append(rules, MaxBytes(BcryptMaxBytes))
	}
	if cfg.RequireUpper {
		rules = append(rules, RequireUpper())
	}
	if cfg.RequireLower {
		rules = append(rules, RequireLower())
	}
	if cfg.RequireDigit {
		rules = append(rules, RequireDigit())
	}
	if cfg.RequireSymbol {
		rules = append(rules, RequireSymbol())
	}
	if cfg.RejectCommon {
		rules = append(rules, RejectCommon(CommonPasswords))
	}
	return NewPolicy(rules...)
}

// Argon2Params are the argon2id work-factor settings
type Argon2Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params follow the OWASP baseline for argon2id
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// HasherConfig selects the algorithm and work factor for new digests
type HasherConfig struct {
	Algorithm  string
	BcryptCost int
	Argon2     Argon2Params
}

// Hasher hashes and verifies secrets. Verification dispatches on the digest
// prefix, so digests produced under older settings keep working.
type Hasher struct {
	config HasherConfig
}

// NewHasher validates the configuration and returns a Hasher
func NewHasher(cfg HasherConfig) (*Hasher, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmBcrypt
	}
	switch cfg.Algorithm {
	case AlgorithmBcrypt:
		if cfg.BcryptCost == 0 {
			cfg.BcryptCost = DefaultBcryptCost
		}
		if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
		}
	case AlgorithmArgon2id:
		if cfg.Argon2 == (Argon2Params{}) {
			cfg.Argon2 = DefaultArgon2Params()
		}
		if cfg.Argon2.Memory < 8*1024 || cfg.Argon2.Time < 1 || cfg.Argon2.Parallelism < 1 ||
			cfg.Argon2.SaltLength < 16 || cfg.Argon2.KeyLength < 16 {
			return nil, fmt.Errorf("argon2id parameters below minimum")
		}
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}
	return &Hasher{config: cfg}, nil
}

// Hash produces a self-describing digest of password
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	if h.config.Algorithm == AlgorithmArgon2id {
		return h.hashArgon2(password)
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.config.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// Verify reports whether password matches digest. Malformed digests return false.
func (h *Hasher) Verify(password, digest string) bool {
	switch {
	case strings.HasPrefix(digest, "$argon2id$"):
		parsed, err := parseArgon2(digest)
		if err != nil {
			return false
		}
		computed := argon2.IDKey([]byte(password), parsed.salt, parsed.params.Time,
			parsed.params.Memory, parsed.params.Parallelism, uint32(len(parsed.hash)))
		return subtle.ConstantTimeCompare(computed, parsed.hash) == 1
	case strings.HasPrefix(digest, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
	default:
		return false
	}
}

// NeedsRehash reports whether digest was produced with a different algorithm
// or a weaker work factor than the current configuration.
func (h *Hasher) NeedsRehash(digest string) bool {
	switch h.config.Algorithm {
	case AlgorithmBcrypt:
		cost, err := bcrypt.Cost([]byte(digest))
		if err != nil {
			return true
		}
		return cost < h.config.BcryptCost
	case AlgorithmArgon2id:
		parsed, err := parseArgon2(digest)
		if err != nil {
			return true
		}
		p := parsed.params
		return p.Memory < h.config.Argon2.Memory || p.Time < h.config.Argon2.Time ||
			p.Parallelism < h.config.Argon2.Parallelism
	}
	return false
}

func (h *Hasher) hashArgon2(password string) (string, error) {
	p := h.config.Argon2
	salt := make([]byte, p.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

type argon2Digest struct {
	params Argon2Params
	salt   []byte
	hash   []byte
}

// parseArgon2 parses $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
func parseArgon2(digest string) (*argon2Digest, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return nil, fmt.Errorf("invalid argon2id digest")
	}

	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, fmt.Errorf("unsupported argon2 version")
	}

	var memory, timeCost uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &parallelism); err != nil {
		return nil, fmt.Errorf("invalid argon2id parameters: %w", err)
	}
	if memory == 0 || timeCost == 0 || parallelism == 0 {
		return nil, fmt.Errorf("invalid argon2id parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("invalid argon2id salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, fmt.Errorf("invalid argon2id hash")
	}

	return &argon2Digest{
		params: Argon2Params{Memory: memory, Time: timeCost, Parallelism: parallelism,
			SaltLength: uint32(len(salt)), KeyLength: uint32(len(hash))},
		salt: salt,
		hash: hash,
	}, nil
}
