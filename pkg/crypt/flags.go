package crypt

import (
	"fmt"
	"strconv"
	"strings"
)

// Flags is the dispatch policy bitset for one device. It is fixed at
// construction and read without synchronization everywhere else.
type Flags uint32

const (
	// FlagSameCPU pins each request's conversion to the worker owning the
	// lane the request was assigned at submission. Lanes rotate round-robin
	// across requests, so this trades the shared read/write queues for
	// per-request worker affinity, not affinity with the submitter.
	FlagSameCPU Flags = 1 << iota

	// FlagNoOffload submits encrypted writes to the underlying device
	// directly from the context that finished conversion instead of handing
	// them to the sorted writer.
	FlagNoOffload

	// FlagForceInline never hands conversion to the workqueue. It runs on the
	// submitting goroutine, falling back to a deferred lane only when the
	// submitter cannot block.
	FlagForceInline

	// FlagAllowDiscards passes trim requests through to the underlying
	// device.
	FlagAllowDiscards

	// FlagLargeSectorIV derives IVs in data-unit-size steps instead of
	// 512-byte steps.
	FlagLargeSectorIV
)

// Has reports whether every bit in mask is set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Feature argument names. Reported by Status in exactly this order:
// same_cpu_crypt, submit_from_crypt_cpus, force_inline, then the rest.
const (
	featSameCPU       = "same_cpu_crypt"
	featNoOffload     = "submit_from_crypt_cpus"
	featForceInline   = "force_inline"
	featAllowDiscards = "allow_discards"
	featSectorSize    = "sector_size"
	featLargeSectors  = "iv_large_sectors"
	featIntegrity     = "integrity"
)

// MaxFeatureArgs bounds the optional feature argument count accepted at
// construction. Eight covers every legal combination of the defined features.
const MaxFeatureArgs = 8

// DefaultSectorSize is the data unit size when no sector_size feature is
// given.
const DefaultSectorSize = 512

// MaxSectorSize is the largest accepted data unit size.
const MaxSectorSize = 4096

// FeatureOptions carries the valued feature arguments parsed alongside the
// flag bits.
type FeatureOptions struct {
	// SectorSize is the data unit size in bytes. Power of two in
	// [DefaultSectorSize, MaxSectorSize].
	SectorSize int

	// TagSize is the per-unit integrity tag size in bytes. Zero means no
	// integrity metadata.
	TagSize int

	// TagMode is the integrity mode token, recorded for status reporting.
	TagMode string
}

// ParseFeatures validates and decodes optional feature arguments into the
// policy bitset and valued options. The argument count is bounded by
// MaxFeatureArgs; unknown or malformed arguments reject the whole set.
func ParseFeatures(args []string) (Flags, FeatureOptions, error) {
	opts := FeatureOptions{SectorSize: DefaultSectorSize}
	if len(args) > MaxFeatureArgs {
		return 0, opts, fmt.Errorf("too many feature arguments: %d (max %d)", len(args), MaxFeatureArgs)
	}

	var flags Flags
	for _, arg := range args {
		switch {
		case arg == featSameCPU:
			flags |= FlagSameCPU
		case arg == featNoOffload:
			flags |= FlagNoOffload
		case arg == featForceInline:
			flags |= FlagForceInline
		case arg == featAllowDiscards:
			flags |= FlagAllowDiscards
		case arg == featLargeSectors:
			flags |= FlagLargeSectorIV
		case strings.HasPrefix(arg, featSectorSize+":"):
			n, err := strconv.Atoi(strings.TrimPrefix(arg, featSectorSize+":"))
			if err != nil {
				return 0, opts, fmt.Errorf("invalid %s argument %q: %w", featSectorSize, arg, err)
			}
			if n < DefaultSectorSize || n > MaxSectorSize || n&(n-1) != 0 {
				return 0, opts, fmt.Errorf("invalid sector size %d: must be a power of two in [%d, %d]",
					n, DefaultSectorSize, MaxSectorSize)
			}
			opts.SectorSize = n
		case strings.HasPrefix(arg, featIntegrity+":"):
			rest := strings.TrimPrefix(arg, featIntegrity+":")
			sizeStr, mode, ok := strings.Cut(rest, ":")
			if !ok || mode == "" {
				return 0, opts, fmt.Errorf("invalid %s argument %q: want integrity:<bytes>:<mode>", featIntegrity, arg)
			}
			n, err := strconv.Atoi(sizeStr)
			if err != nil || n <= 0 || n > 64 {
				return 0, opts, fmt.Errorf("invalid integrity tag size in %q", arg)
			}
			opts.TagSize = n
			opts.TagMode = mode
		default:
			return 0, opts, fmt.Errorf("unknown feature argument %q", arg)
		}
	}

	if flags.Has(FlagForceInline) && opts.TagSize > 0 {
		// Tag store lookups may block, and forced-inline conversion can land
		// on a deferred lane where blocking is forbidden.
		return 0, opts, fmt.Errorf("%s is incompatible with %s tags", featForceInline, featIntegrity)
	}

	return flags, opts, nil
}

// featureArgs renders the active features in the fixed reporting order.
// Consumers parse this, so the order is a compatibility contract.
func featureArgs(flags Flags, opts FeatureOptions) []string {
	var args []string
	if flags.Has(FlagSameCPU) {
		args = append(args, featSameCPU)
	}
	if flags.Has(FlagNoOffload) {
		args = append(args, featNoOffload)
	}
	if flags.Has(FlagForceInline) {
		args = append(args, featForceInline)
	}
	if flags.Has(FlagAllowDiscards) {
		args = append(args, featAllowDiscards)
	}
	if opts.SectorSize != DefaultSectorSize {
		args = append(args, fmt.Sprintf("%s:%d", featSectorSize, opts.SectorSize))
	}
	if flags.Has(FlagLargeSectorIV) {
		args = append(args, featLargeSectors)
	}
	if opts.TagSize > 0 {
		args = append(args, fmt.Sprintf("%s:%d:%s", featIntegrity, opts.TagSize, opts.TagMode))
	}
	return args
}
