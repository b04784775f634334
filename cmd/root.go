package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mediloop",
	Short: "AI-assisted medical consultation platform",
	Long: `Mediloop runs AI-assisted medical consultations: a streaming
conversation engine with concurrent emergency screening, and a
post-session pipeline that extracts clinical documents (visit records,
SOAP notes, EHR entries, summaries, and referral letters) from the
transcript.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "mediloop.yml", "config file path")
}
