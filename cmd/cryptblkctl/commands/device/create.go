package device

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
	"github.com/cryptblk/cryptblk/pkg/apiclient"
)

var (
	createBackend       string
	createPath          string
	createBucket        string
	createRegion        string
	createPrefix        string
	createCipher        string
	createIVMode        string
	createFeatures      string
	createStartSector   uint64
	createSectors       uint64
	createIVOffset      uint64
	createPassphraseEnv string
	createKeyFile       string
	createKDFTime       uint32
	createKDFMemory     uint32
	createKDFThreads    uint8
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register and attach a new device",
	Long: `Register a new encrypted device on the cryptblk server. Requires admin role.

The device needs a backend, a cipher transform and exactly one key
source: either --passphrase-env (the server reads the passphrase from
that environment variable and derives the key with Argon2id) or
--key-file (a raw key file on the server).

Examples:
  # In-memory device for testing
  cryptblkctl device create scratch --backend memory --sectors 2048 \
    --cipher aes-xts-plain64 --passphrase-env SCRATCH_PASSPHRASE

  # File-backed device
  cryptblkctl device create vault0 --backend file --path /var/lib/cryptblk/vault0.img \
    --sectors 2097152 --cipher aes-xts-plain64 --passphrase-env VAULT0_PASSPHRASE

  # S3-backed device with features
  cryptblkctl device create remote0 --backend s3 --bucket my-bucket --region eu-west-1 \
    --sectors 2097152 --cipher aes-xts-plain64 --key-file /etc/cryptblk/remote0.key \
    --features same_cpu_crypt,sector_size:4096

  # Authenticated encryption with integrity tags
  cryptblkctl device create sealed0 --backend file --path /var/lib/cryptblk/sealed0.img \
    --sectors 2048 --cipher aes-gcm-random --passphrase-env SEALED0_PASSPHRASE \
    --features integrity:16:aead`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createBackend, "backend", "memory", "Backend type (memory|file|s3)")
	createCmd.Flags().StringVar(&createPath, "path", "", "Backing file path (file backend)")
	createCmd.Flags().StringVar(&createBucket, "bucket", "", "S3 bucket name (s3 backend)")
	createCmd.Flags().StringVar(&createRegion, "region", "", "S3 region (s3 backend)")
	createCmd.Flags().StringVar(&createPrefix, "prefix", "", "S3 object key prefix (s3 backend)")
	createCmd.Flags().StringVar(&createCipher, "cipher", "aes-xts-plain64", "Cipher transform")
	createCmd.Flags().StringVar(&createIVMode, "iv-mode", "", "IV mode override (defaults to the transform's IV mode)")
	createCmd.Flags().StringVar(&createFeatures, "features", "", "Comma-separated feature flags (e.g. same_cpu_crypt,sector_size:4096)")
	createCmd.Flags().Uint64Var(&createStartSector, "start-sector", 0, "First sector of the mapped region")
	createCmd.Flags().Uint64Var(&createSectors, "sectors", 0, "Device size in 512-byte sectors (required)")
	createCmd.Flags().Uint64Var(&createIVOffset, "iv-offset", 0, "IV offset added to sector numbers")
	createCmd.Flags().StringVar(&createPassphraseEnv, "passphrase-env", "", "Environment variable holding the passphrase (server side)")
	createCmd.Flags().StringVar(&createKeyFile, "key-file", "", "Path to raw key file (server side)")
	createCmd.Flags().Uint32Var(&createKDFTime, "kdf-time", 0, "Argon2id time parameter (0 = server default)")
	createCmd.Flags().Uint32Var(&createKDFMemory, "kdf-memory", 0, "Argon2id memory in KiB (0 = server default)")
	createCmd.Flags().Uint8Var(&createKDFThreads, "kdf-threads", 0, "Argon2id parallelism (0 = server default)")
	createCmd.MarkFlagsMutuallyExclusive("passphrase-env", "key-file")
	_ = createCmd.MarkFlagRequired("sectors")
}

func runCreate(cmd *cobra.Command, args []string) error {
	name := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	backendConfig := map[string]any{}
	switch createBackend {
	case "file":
		if createPath == "" {
			return fmt.Errorf("--path is required for the file backend")
		}
		backendConfig["path"] = createPath
	case "s3":
		if createBucket == "" {
			return fmt.Errorf("--bucket is required for the s3 backend")
		}
		backendConfig["bucket"] = createBucket
		if createRegion != "" {
			backendConfig["region"] = createRegion
		}
		if createPrefix != "" {
			backendConfig["prefix"] = createPrefix
		}
	}

	req := &apiclient.CreateDeviceRequest{
		Name:          name,
		Backend:       createBackend,
		BackendConfig: backendConfig,
		Cipher:        createCipher,
		IVMode:        createIVMode,
		Features:      cmdutil.ParseCommaSeparatedList(createFeatures),
		StartSector:   createStartSector,
		Sectors:       createSectors,
		IVOffset:      createIVOffset,
		PassphraseEnv: createPassphraseEnv,
		KeyFile:       createKeyFile,
		KDFTime:       createKDFTime,
		KDFMemoryKiB:  createKDFMemory,
		KDFThreads:    createKDFThreads,
	}

	dev, err := client.CreateDevice(req)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	return cmdutil.PrintResourceWithSuccess(os.Stdout, dev,
		fmt.Sprintf("Device '%s' created (%s backend, %s)", dev.Name, dev.Backend, dev.Cipher))
}
