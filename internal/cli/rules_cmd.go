package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkondratev/packwatch/internal/rules"
)

var (
	ruleID      string
	ruleType    string
	rulePattern string
	ruleReason  string
)

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)

	rulesAddCmd.Flags().StringVar(&ruleID, "id", "", "Rule identifier")
	rulesAddCmd.Flags().StringVar(&ruleType, "type", rules.MatchPrefix, "Match kind: prefix, contains, or regex")
	rulesAddCmd.Flags().StringVar(&rulePattern, "pattern", "", "Pattern the rule matches")
	rulesAddCmd.Flags().StringVar(&ruleReason, "reason", "", "Why this command family is safe")
	_ = rulesAddCmd.MarkFlagRequired("id")
	_ = rulesAddCmd.MarkFlagRequired("pattern")
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and edit gating rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allow, deny, and learned rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := rules.NewStore(cfg.AllowlistPath, cfg.DenylistPath, cfg.LearnedPath, zap.NewNop())
		if err != nil {
			return err
		}

		allow, deny, learned := store.Snapshot()
		printRuleSection("allow", allow)
		printRuleSection("deny", deny)
		printRuleSection("learned", learned)
		return nil
	},
}

func printRuleSection(name string, rs []rules.Rule) {
	fmt.Println(titleStyle.Render(name))
	if len(rs) == 0 {
		fmt.Println(dimStyle.Render("  (none)"))
		return
	}
	for _, r := range rs {
		fmt.Printf("  %s %s %q  %s\n",
			keyStyle.Render(r.ID), r.Type, r.Pattern, dimStyle.Render(r.Reason))
	}
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a learned approval rule",
	Long: "Persists one learned rule to the append-only store. Rules whose\n" +
		"pattern is covered by the deny list are rejected.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := rules.NewStore(cfg.AllowlistPath, cfg.DenylistPath, cfg.LearnedPath, zap.NewNop())
		if err != nil {
			return err
		}

		rule := rules.Rule{ID: ruleID, Type: ruleType, Pattern: rulePattern, Reason: ruleReason}
		if err := store.AppendLearned(rule); err != nil {
			fmt.Println(errStyle.Render("rejected: " + err.Error()))
			return err
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("learned rule %s added", ruleID)))
		return nil
	},
}
