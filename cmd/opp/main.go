// opp - OpenStack Port Provider
//
// A node agent that keeps a compute node's attached Neutron ports in sync
// with a declared set of subnets. Every reconciliation tick it:
//
//   - optionally deletes stale DOWN ports carrying the agent's tags
//   - diffs the subnets of the node's attached ports against the desired set
//   - creates, tags and attaches a port for every missing subnet
//   - renders host network config from per-subnet templates
//   - applies the config when something new was written
//
// Ports are named "{prefix}-{node}-{subnet}" so re-runs reuse them instead
// of creating duplicates. Config files are written once and never touched
// again.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opp-network/opp/pkg/cloud"
	"github.com/opp-network/opp/pkg/netconfig"
	"github.com/opp-network/opp/pkg/reconcile"
	"github.com/opp-network/opp/pkg/status"
	"github.com/opp-network/opp/pkg/util"
	"github.com/opp-network/opp/pkg/version"
)

const nodeNameEnvVar = "NODENAME"

var (
	cloudConfigPath   string
	nodeName          string
	subnetNames       []string
	configType        string
	configDestination string
	configTemplates   string
	interval          time.Duration
	applyCmdOverride  string
	portPrefix        string
	portTags          []string
	cleanupEnabled    bool
	waitPortActive    bool
	statusAddr        string
	logLevel          string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		util.Errorf("%v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "opp",
	Short:         "OpenStack Port Provider agent",
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `opp keeps a compute node's Neutron port attachments in sync with a
declared set of subnets and generates the matching host network config.

  opp --node-name node1 --subnet storage --subnet replication --cleanup --port-tag opp`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return util.SetLogLevel(logLevel)
	},
	RunE: run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cloudConfigPath, "cloud-config", "/etc/kubernetes/cloud.config",
		"Path to the cloud config of the OpenStack CCM")
	flags.StringVar(&nodeName, "node-name", os.Getenv(nodeNameEnvVar),
		"Name of the node to manage ports for (env "+nodeNameEnvVar+")")
	flags.StringArrayVar(&subnetNames, "subnet", nil,
		"Subnet to add ports from (repeatable)")
	flags.StringVar(&configType, "config-type", string(netconfig.TypeNetplan),
		"Networking config handler type")
	flags.StringVar(&configDestination, "config-destination", "/etc/netplan",
		"Path to networking config destination")
	flags.StringVar(&configTemplates, "config-templates", "/etc/os-port-provider/config-templates",
		"Path to networking config templates")
	flags.DurationVar(&interval, "interval", 30*time.Second,
		"Reconciliation interval")
	flags.StringVar(&applyCmdOverride, "apply-cmd", "",
		"Custom apply command (whitespace separated)")
	flags.StringVar(&portPrefix, "port-prefix", "opp",
		"Prefix of derived port names and config file names")
	flags.StringArrayVar(&portTags, "port-tag", nil,
		"Tag set on managed ports (repeatable)")
	flags.BoolVar(&cleanupEnabled, "cleanup", false,
		"Delete stale DOWN ports carrying the configured tags each tick")
	flags.BoolVar(&waitPortActive, "wait-port-active", false,
		"Wait for newly attached ports to leave DOWN status")
	flags.StringVar(&statusAddr, "status-addr", "",
		"Listen address for the HTTP status endpoint (disabled when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, args []string) error {
	if nodeName == "" {
		return fmt.Errorf("node name is required: set --node-name or %s: %w", nodeNameEnvVar, util.ErrInvalidConfig)
	}
	if len(subnetNames) == 0 {
		return fmt.Errorf("at least one --subnet is required: %w", util.ErrInvalidConfig)
	}
	if interval < 0 {
		return fmt.Errorf("interval must not be negative: %w", util.ErrInvalidConfig)
	}
	if cleanupEnabled && len(portTags) == 0 {
		return fmt.Errorf("--cleanup requires at least one --port-tag: %w", util.ErrInvalidConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cloudConfig, err := cloud.LoadCloudConfig(cloudConfigPath)
	if err != nil {
		return err
	}

	client, err := cloud.NewOpenStackClient(ctx, cloudConfig)
	if err != nil {
		return fmt.Errorf("connecting to cloud: %w", err)
	}

	server, err := client.GetServer(ctx, nodeName)
	if err != nil {
		return fmt.Errorf("looking up server: %w", err)
	}

	expected, err := cloud.ExpectedSubnets(ctx, client, subnetNames)
	if err != nil {
		return err
	}

	handlerOpts := netconfig.Options{FilePrefix: portPrefix}
	if applyCmdOverride != "" {
		handlerOpts.ApplyCmd = strings.Fields(applyCmdOverride)
		util.Debugf("Set apply cmd to: %v", handlerOpts.ApplyCmd)
	}

	handler, err := netconfig.New(netconfig.Type(configType), handlerOpts)
	if err != nil {
		return err
	}

	reconciler := reconcile.New(client, server, expected, reconcile.Options{
		PortPrefix: portPrefix,
		Tags:       portTags,
		WaitActive: waitPortActive,
	})

	runnerConfig := reconcile.RunnerConfig{
		Reconciler:   reconciler,
		Handler:      handler,
		Interval:     interval,
		Cleanup:      cleanupEnabled,
		DestDir:      configDestination,
		TemplatesDir: configTemplates,
	}

	if statusAddr != "" {
		statusServer := status.NewServer(statusAddr)
		statusServer.Start(ctx)
		runnerConfig.Recorder = statusServer
	}

	util.WithServer(server.Name).Infof("Starting reconciliation every %s.", interval)
	return reconcile.NewRunner(runnerConfig).Run(ctx)
}
