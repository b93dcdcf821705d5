package main

import (
	"github.com/spf13/cobra"

	"github.com/opendelta/payloadapplier/pkg/applier"
)

var resetConfiguration struct {
	commonConfiguration
}

var resetCommand = &cobra.Command{
	Use:          "reset",
	Short:        "Discard any resume checkpoint, forcing the next apply to start over",
	RunE:         resetMain,
	SilenceUsage: true,
}

func init() {
	resetConfiguration.register(resetCommand.Flags())
}

func resetMain(command *cobra.Command, arguments []string) error {
	logger, err := resetConfiguration.logger("reset")
	if err != nil {
		return err
	}
	store, err := resetConfiguration.store(logger)
	if err != nil {
		return err
	}
	return applier.ResetUpdateProgress(store)
}
