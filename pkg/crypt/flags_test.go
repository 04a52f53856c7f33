package crypt

import (
	"reflect"
	"testing"
)

func TestParseFeatures(t *testing.T) {
	cases := []struct {
		name      string
		args      []string
		wantFlags Flags
		wantOpts  FeatureOptions
		wantErr   bool
	}{
		{
			name:     "Empty",
			args:     nil,
			wantOpts: FeatureOptions{SectorSize: 512},
		},
		{
			name:      "SingleFlag",
			args:      []string{"same_cpu_crypt"},
			wantFlags: FlagSameCPU,
			wantOpts:  FeatureOptions{SectorSize: 512},
		},
		{
			name:      "AllPolicyFlags",
			args:      []string{"same_cpu_crypt", "submit_from_crypt_cpus", "force_inline"},
			wantFlags: FlagSameCPU | FlagNoOffload | FlagForceInline,
			wantOpts:  FeatureOptions{SectorSize: 512},
		},
		{
			name:      "SectorSize",
			args:      []string{"sector_size:4096"},
			wantOpts:  FeatureOptions{SectorSize: 4096},
			wantFlags: 0,
		},
		{
			name:      "LargeSectorsWithDiscards",
			args:      []string{"allow_discards", "iv_large_sectors", "sector_size:2048"},
			wantFlags: FlagAllowDiscards | FlagLargeSectorIV,
			wantOpts:  FeatureOptions{SectorSize: 2048},
		},
		{
			name:     "Integrity",
			args:     []string{"integrity:16:aead"},
			wantOpts: FeatureOptions{SectorSize: 512, TagSize: 16, TagMode: "aead"},
		},
		{
			name:    "TooManyArgs",
			args:    []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"},
			wantErr: true,
		},
		{
			name:    "UnknownArg",
			args:    []string{"turbo_mode"},
			wantErr: true,
		},
		{
			name:    "SectorSizeNotPowerOfTwo",
			args:    []string{"sector_size:1000"},
			wantErr: true,
		},
		{
			name:    "SectorSizeTooSmall",
			args:    []string{"sector_size:256"},
			wantErr: true,
		},
		{
			name:    "SectorSizeTooLarge",
			args:    []string{"sector_size:8192"},
			wantErr: true,
		},
		{
			name:    "SectorSizeNotANumber",
			args:    []string{"sector_size:big"},
			wantErr: true,
		},
		{
			name:    "IntegrityMissingMode",
			args:    []string{"integrity:16"},
			wantErr: true,
		},
		{
			name:    "IntegrityBadSize",
			args:    []string{"integrity:0:aead"},
			wantErr: true,
		},
		{
			name:    "IntegrityOversizedTag",
			args:    []string{"integrity:128:aead"},
			wantErr: true,
		},
		{
			name:    "ForceInlineWithIntegrity",
			args:    []string{"force_inline", "integrity:16:aead"},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flags, opts, err := ParseFeatures(tc.args)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseFeatures(%v) succeeded, want error", tc.args)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFeatures(%v) failed: %v", tc.args, err)
			}
			if flags != tc.wantFlags {
				t.Errorf("flags = %#x, want %#x", flags, tc.wantFlags)
			}
			if opts != tc.wantOpts {
				t.Errorf("opts = %+v, want %+v", opts, tc.wantOpts)
			}
		})
	}
}

func TestFeatureArgsOrder(t *testing.T) {
	flags := FlagSameCPU | FlagNoOffload | FlagForceInline | FlagAllowDiscards | FlagLargeSectorIV
	opts := FeatureOptions{SectorSize: 4096, TagSize: 16, TagMode: "aead"}

	got := featureArgs(flags, opts)
	want := []string{
		"same_cpu_crypt",
		"submit_from_crypt_cpus",
		"force_inline",
		"allow_discards",
		"sector_size:4096",
		"iv_large_sectors",
		"integrity:16:aead",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("featureArgs() = %v\nwant %v", got, want)
	}
}

func TestFeatureArgsOmitsDefaults(t *testing.T) {
	got := featureArgs(0, FeatureOptions{SectorSize: 512})
	if len(got) != 0 {
		t.Errorf("featureArgs() = %v, want empty for a default device", got)
	}
}

func TestFeatureArgsParseRoundtrip(t *testing.T) {
	flags := FlagNoOffload | FlagAllowDiscards
	opts := FeatureOptions{SectorSize: 1024, TagSize: 16, TagMode: "aead"}

	args := featureArgs(flags, opts)
	gotFlags, gotOpts, err := ParseFeatures(args)
	if err != nil {
		t.Fatalf("ParseFeatures(%v) failed: %v", args, err)
	}
	if gotFlags != flags {
		t.Errorf("flags = %#x, want %#x", gotFlags, flags)
	}
	if gotOpts != opts {
		t.Errorf("opts = %+v, want %+v", gotOpts, opts)
	}
}

func TestFlagsHas(t *testing.T) {
	f := FlagSameCPU | FlagForceInline
	if !f.Has(FlagSameCPU) {
		t.Error("Has(FlagSameCPU) = false")
	}
	if !f.Has(FlagForceInline) {
		t.Error("Has(FlagForceInline) = false")
	}
	if f.Has(FlagNoOffload) {
		t.Error("Has(FlagNoOffload) = true, want false")
	}
	if !f.Has(FlagSameCPU | FlagForceInline) {
		t.Error("Has(combined mask) = false, want true")
	}
	if f.Has(FlagSameCPU | FlagNoOffload) {
		t.Error("Has(mask with missing bit) = true, want false")
	}
}
