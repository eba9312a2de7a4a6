package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crossbt/internal/logger"
	"crossbt/internal/profile"
)

func newInitCmd() *cobra.Command {
	var (
		profilesPath string
		force        bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "生成起步参数组文件",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(profilesPath); err == nil {
					return fmt.Errorf("%s 已存在，使用 --force 覆盖", profilesPath)
				}
			}
			if err := profile.Save(profilesPath, profile.Skeleton()); err != nil {
				return err
			}
			logger.Infof("[init] 参数组已写入 %s", profilesPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&profilesPath, "profiles", "configs/profiles.yaml", "参数组输出路径")
	cmd.Flags().BoolVar(&force, "force", false, "覆盖已存在的文件")
	return cmd
}
