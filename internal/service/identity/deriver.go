package identity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
	"github.com/trioll/trioll-developer-portal/internal/metrics"
	"github.com/trioll/trioll-developer-portal/internal/repository"
)

const (
	developerIDPrefix = "dev_"
	slugLength        = 6
)

// BaseID computes the collision-free candidate developer ID for email.
func BaseID(email string) (string, error) {
	if strings.Count(email, "@") != 1 {
		return "", fmt.Errorf("%w: %q", domainidentity.ErrInvalidEmail, email)
	}
	local := []rune(strings.ToLower(email[:strings.IndexByte(email, '@')]))
	if len(local) > slugLength {
		local = local[:slugLength]
	}

	var b strings.Builder
	b.Grow(len(developerIDPrefix) + slugLength)
	b.WriteString(developerIDPrefix)
	for i := 0; i < slugLength; i++ {
		c := '0'
		if i < len(local) {
			c = local[i]
		}
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			c = '0'
		}
		b.WriteRune(c)
	}
	return b.String(), nil
}

// Deriver assigns developer IDs from email addresses, resolving collisions
// against the IDs already on record.
type Deriver struct {
	records repository.DeveloperRepository
	metrics metrics.Recorder
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewDeriver constructs a Deriver. A nil recorder discards metrics.
func NewDeriver(records repository.DeveloperRepository, recorder metrics.Recorder, timeout time.Duration, logger *zap.Logger) *Deriver {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Deriver{
		records: records,
		metrics: recorder,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Derive returns a developer ID unique among the records at query time.
// Callers must persist it with a conditional write. When the record store
// cannot be queried the base ID is suffixed with the current Unix millis.
func (d *Deriver) Derive(ctx context.Context, email string) (string, error) {
	return d.derive(ctx, email, nil)
}

// derive treats reserved as already taken in addition to the stored IDs.
func (d *Deriver) derive(ctx context.Context, email string, reserved []string) (string, error) {
	base, err := BaseID(email)
	if err != nil {
		return "", err
	}

	lookupCtx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()
	existing, err := d.records.ListDeveloperIDsWithPrefix(lookupCtx, base)
	if err != nil {
		fallback := base + "_" + strconv.FormatInt(d.now().UnixMilli(), 10)
		d.metrics.RecordDerivationFallback()
		d.log().Warn("developer id lookup failed, using timestamp fallback",
			zap.String("base_id", base),
			zap.String("developer_id", fallback),
			zap.Error(err),
		)
		return fallback, nil
	}
	for _, id := range reserved {
		if strings.HasPrefix(id, base) {
			existing = append(existing, id)
		}
	}
	return nextDeveloperID(base, existing), nil
}

// nextDeveloperID returns base when no ID shares its prefix, otherwise base
// followed by the highest numeric suffix plus one.
func nextDeveloperID(base string, existing []string) string {
	if len(existing) == 0 {
		return base
	}
	maxSuffix := uint64(0)
	for _, id := range existing {
		suffix, ok := strings.CutPrefix(id, base)
		if !ok || suffix == "" {
			continue
		}
		n, err := strconv.ParseUint(suffix, 10, 63)
		if err != nil {
			continue
		}
		if n > maxSuffix {
			maxSuffix = n
		}
	}
	return base + strconv.FormatUint(maxSuffix+1, 10)
}

func (d *Deriver) log() *zap.Logger {
	if d != nil && d.logger != nil {
		return d.logger
	}
	return zap.L()
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
