package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/coderoom-live/coderoom/internal/config"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new room and print its code",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()

		resp, err := http.Post(cfg.ServerURL+"/rooms", "application/json", nil)
		if err != nil {
			return fmt.Errorf("failed to reach server: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("server returned %s", resp.Status)
		}

		var created struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		fmt.Println(created.ID)
		return nil
	},
}
