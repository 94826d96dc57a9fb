package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(langCmd)
}

var supportedLanguages = map[string]bool{
	"en": true,
	"es": true,
	"fr": true,
	"de": true,
}

var langCmd = &cobra.Command{
	Use:   "lang [code]",
	Short: "Show or set the interface language",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()

		if len(args) == 0 {
			lang, err := store.Language()
			if err != nil {
				return err
			}
			if lang == "" {
				lang = "en"
			}
			fmt.Println(lang)
			return nil
		}

		code := args[0]
		if !supportedLanguages[code] {
			return fmt.Errorf("unsupported language %q (valid: en, es, fr, de)", code)
		}
		if err := store.SetLanguage(code); err != nil {
			return err
		}
		fmt.Printf("Language set to %s\n", code)
		return nil
	},
}
