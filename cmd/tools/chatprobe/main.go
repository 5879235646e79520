package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	personaID string
	category  string
	mode      string
	useMock   bool
)

var rootCmd = &cobra.Command{
	Use:   "chatprobe",
	Short: "Exercise the counselor chat pipeline from the command line",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] .env not loaded, using system environment: %v\n", err)
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&personaID, "persona", "p", "", "persona id")
	rootCmd.PersistentFlags().StringVarP(&category, "category", "c", "", "consultation category (進路|学習|人間関係)")
	rootCmd.PersistentFlags().StringVarP(&mode, "mode", "m", "", "response mode (normal|detailed|quick|encouraging)")
	_ = rootCmd.MarkPersistentFlagRequired("persona")

	sendCmd.Flags().BoolVar(&useMock, "mock", false, "use the offline mock generator")

	rootCmd.AddCommand(sendCmd, promptCmd, moderateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
