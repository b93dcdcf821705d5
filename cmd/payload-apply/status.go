package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opendelta/payloadapplier/pkg/applier"
)

var statusConfiguration struct {
	commonConfiguration
	responseHash string
}

var statusCommand = &cobra.Command{
	Use:          "status",
	Short:        "Report whether an interrupted update can be resumed",
	RunE:         statusMain,
	SilenceUsage: true,
}

func init() {
	flags := statusCommand.Flags()
	statusConfiguration.register(flags)
	flags.StringVar(&statusConfiguration.responseHash, "response-hash", "", "Update check response hash used to key resume checkpoints")
}

func statusMain(command *cobra.Command, arguments []string) error {
	config := &statusConfiguration
	logger, err := config.logger("status")
	if err != nil {
		return err
	}
	store, err := config.store(logger)
	if err != nil {
		return err
	}

	if applier.CanResumeUpdate(store, config.responseHash) {
		fmt.Println("resumable")
	} else {
		fmt.Println("not resumable")
	}
	return nil
}
