/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/killallgit/tokenstream/pkg/config"
	"github.com/killallgit/tokenstream/pkg/controllers"
	"github.com/killallgit/tokenstream/pkg/ollama"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models",
	Long:  `List all models that have been downloaded to the Ollama backend`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		client := ollama.NewClientWithTimeout(cfg.Backend.URL, cfg.Backend.ConnectTimeout)

		health, err := client.CheckHealth(cmd.Context())
		if err != nil {
			return err
		}
		if !health.Available {
			return health.Error
		}

		if name := viper.GetString("models.check"); name != "" {
			found, err := client.CheckModel(cmd.Context(), name)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("model %q is not installed", name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is installed\n", name)
			return nil
		}

		controller := controllers.NewModelsController(client)
		if err := controller.ListModels(cmd.Context(), cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("error listing models: %w", err)
		}
		return nil
	},
}

func init() {
	modelsCmd.Flags().String("check", "", "Only report whether the named model is installed")
	bindFlag("models.check", modelsCmd.Flags().Lookup("check"))

	rootCmd.AddCommand(modelsCmd)
}
