// Package iso holds the `hvc iso` commands for answer-media authoring.
package iso

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/r11/hyperv-commander/internal/defaults"
	isopkg "github.com/r11/hyperv-commander/pkg/iso"
	"github.com/r11/hyperv-commander/pkg/unattend"
)

var ISOCmd = &cobra.Command{
	Use:   "iso",
	Short: "Build answer-file media",
}

var (
	buildOutput   string
	buildPassword string
	buildImage    string
	buildIP       string
	buildPrefix   int
	buildGateway  string
	buildDNS      []string
	buildTimeZone string
	buildNative   bool
)

var buildCmd = &cobra.Command{
	Use:   "build <computer-name>",
	Short: "Render autounattend.xml and author the answer ISO",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "output ISO path (default <name>-answer.iso)")
	buildCmd.Flags().StringVar(&buildPassword, "admin-password", "", "local administrator password (required)")
	buildCmd.Flags().StringVar(&buildImage, "image", defaults.DefaultImage, "edition name inside install.wim")
	buildCmd.Flags().StringVar(&buildIP, "ip", "", "static IPv4 address (DHCP when omitted)")
	buildCmd.Flags().IntVar(&buildPrefix, "prefix-length", 24, "static address prefix length")
	buildCmd.Flags().StringVar(&buildGateway, "gateway", "", "default gateway for static addressing")
	buildCmd.Flags().StringSliceVar(&buildDNS, "dns", nil, "DNS servers for static addressing")
	buildCmd.Flags().StringVar(&buildTimeZone, "timezone", "", "guest time zone (default UTC)")
	buildCmd.Flags().BoolVar(&buildNative, "native", false, "author through the IMAPI2 COM API (Windows only)")
	buildCmd.MarkFlagRequired("admin-password") //nolint:errcheck

	ISOCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg := unattend.Config{
		ComputerName:  name,
		AdminPassword: buildPassword,
		ImageName:     buildImage,
		TimeZone:      buildTimeZone,
	}
	if buildIP != "" {
		if buildGateway == "" {
			return fmt.Errorf("--ip requires --gateway")
		}
		cfg.Static = &unattend.StaticIP{
			Address:      buildIP,
			PrefixLength: buildPrefix,
			Gateway:      buildGateway,
			DNS:          buildDNS,
		}
	}

	xml, err := unattend.Render(cfg)
	if err != nil {
		return err
	}

	output := buildOutput
	if output == "" {
		output = name + "-answer.iso"
	}
	build := isopkg.Build
	if buildNative {
		build = isopkg.BuildNative
	}
	if err := build(output, "ANSWER", []isopkg.File{
		{Name: "autounattend.xml", Content: xml},
	}); err != nil {
		return err
	}

	log.Info().Str("path", output).Str("computer", name).Msg("Answer media built")
	return nil
}
