package main

import (
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/opendelta/payloadapplier/pkg/applier"
)

// applyConfiguration holds the flags bound to applyCommand.
var applyConfiguration struct {
	commonConfiguration

	payload          string
	rootfsDevice     string
	kernelDevice     string
	publicKey        string
	expectedHash     string
	expectedSize     uint64
	responseHash     string
	supportedVersion []string
	maxMoveBuffer    string
	bspatchPath      string
	tempDir          string
	chunkSize        string
	fresh            bool
}

var applyCommand = &cobra.Command{
	Use:          "apply",
	Short:        "Apply a payload file to the target device(s)",
	RunE:         applyMain,
	SilenceUsage: true,
}

func init() {
	flags := applyCommand.Flags()
	applyConfiguration.register(flags)
	flags.StringVar(&applyConfiguration.payload, "payload", "", "Path to the payload file, or - to read from stdin (required)")
	flags.StringVar(&applyConfiguration.rootfsDevice, "rootfs-device", "", "Path to the rootfs block device (required)")
	flags.StringVar(&applyConfiguration.kernelDevice, "kernel-device", "", "Path to the kernel block device")
	flags.StringVar(&applyConfiguration.publicKey, "public-key", applier.DefaultPublicKeyPath, "Path to the payload signing public key")
	flags.StringVar(&applyConfiguration.expectedHash, "expected-hash", "", "Base64 SHA-256 the update check promised for the full payload")
	flags.Uint64Var(&applyConfiguration.expectedSize, "expected-size", 0, "Payload size in bytes the update check promised")
	flags.StringVar(&applyConfiguration.responseHash, "response-hash", "", "Update check response hash used to key resume checkpoints")
	flags.StringSliceVar(&applyConfiguration.supportedVersion, "supported-version", nil, "Restrict accepted payload version tags (repeatable); empty accepts any")
	flags.StringVar(&applyConfiguration.maxMoveBuffer, "max-move-buffer", "512MiB", "Cap on a MOVE operation's staging buffer, e.g. 256MiB")
	flags.StringVar(&applyConfiguration.bspatchPath, "bspatch-path", "bspatch", "Path to the external bspatch binary")
	flags.StringVar(&applyConfiguration.tempDir, "temp-dir", "", "Directory for staging BSDIFF patch input (default: system temp)")
	flags.StringVar(&applyConfiguration.chunkSize, "chunk-size", "1MiB", "Simulated downloader chunk size fed to the applier per Write call")
	flags.BoolVar(&applyConfiguration.fresh, "fresh", false, "Ignore any existing checkpoint and start the update from the beginning")
}

func applyMain(command *cobra.Command, arguments []string) error {
	config := &applyConfiguration
	if config.payload == "" {
		return errors.New("--payload is required")
	}
	if config.rootfsDevice == "" {
		return errors.New("--rootfs-device is required")
	}

	logger, err := config.logger("payload-apply")
	if err != nil {
		return err
	}
	store, err := config.store(logger)
	if err != nil {
		return err
	}

	maxMoveBuffer, err := humanize.ParseBytes(config.maxMoveBuffer)
	if err != nil {
		return errors.Wrap(err, "invalid --max-move-buffer")
	}
	chunkSize, err := humanize.ParseBytes(config.chunkSize)
	if err != nil {
		return errors.Wrap(err, "invalid --chunk-size")
	}
	if chunkSize == 0 {
		return errors.New("--chunk-size must be positive")
	}

	var versions [][8]byte
	for _, v := range config.supportedVersion {
		versions = append(versions, parseVersionBytes(v))
	}

	var payloadBytes []byte
	if config.payload == "-" {
		payloadBytes, err = io.ReadAll(os.Stdin)
	} else {
		payloadBytes, err = os.ReadFile(config.payload)
	}
	if err != nil {
		return errors.Wrap(err, "unable to read payload")
	}

	term := applier.NewTerminator()
	a := applier.NewApplier(store, term, applier.Options{
		Logger:             logger.Sublogger("engine"),
		SupportedVersions:  versions,
		MaxMoveBufferBytes: maxMoveBuffer,
		BSpatchPath:        config.bspatchPath,
		TempDir:            config.tempDir,
	})

	startOffset := uint64(0)
	if !config.fresh && applier.CanResumeUpdate(store, config.responseHash) {
		manifest, _, parseErr := applier.ParsePayloadManifest(payloadBytes)
		if parseErr != nil {
			return errors.Wrap(parseErr, "unable to re-derive manifest for resume")
		}
		if resumeErr := a.ResumeFrom(store, manifest); resumeErr != nil {
			return errors.Wrap(resumeErr, "unable to resume from checkpoint")
		}
		startOffset = a.ResumeOffset()
		logger.Infof("resuming update at byte offset %s of %s", humanize.Bytes(startOffset), humanize.Bytes(uint64(len(payloadBytes))))
	} else {
		if resetErr := applier.ResetUpdateProgress(store); resetErr != nil {
			logger.Warningf("unable to clear stale checkpoint: %v", resetErr)
		}
		if recordErr := applier.RecordUpdateCheckResponseHash(store, config.responseHash); recordErr != nil {
			logger.Warningf("unable to record response hash: %v", recordErr)
		}
	}

	if err := a.Open(config.rootfsDevice); err != nil {
		return err
	}
	if config.kernelDevice != "" {
		if err := a.OpenKernel(config.kernelDevice); err != nil {
			return err
		}
	}

	total := uint64(len(payloadBytes))
	for offset := startOffset; offset < total; {
		end := offset + chunkSize
		if end > total {
			end = total
		}
		n, err := a.Write(payloadBytes[offset:end])
		if err != nil {
			return errors.Wrap(err, "unable to apply payload chunk")
		}
		offset += uint64(n)
	}

	if err := a.Close(); err != nil {
		return err
	}

	if config.expectedHash != "" {
		if !a.VerifyPayload(config.publicKey, config.expectedHash, config.expectedSize) {
			return errors.New("payload verification failed")
		}
		logger.Info("payload verified")
	}

	logger.Infof("applied %s to %s", humanize.Bytes(total), config.rootfsDevice)
	return nil
}
