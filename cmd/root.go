package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/stitch/internal/config"
	"github.com/tanq16/stitch/internal/utils"
)

var StitchVersion = "dev"

var (
	configFile    string
	workers       int
	maxConcurrent int
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	token         string
	awsProfile    string
	limitRate     string
	maxTargetSize string
	retryAttempts int
	headers       []string
	debug         bool
)

// globalConfig is the config file merged with the environment and flags.
var globalConfig config.Config

var rootCmd = &cobra.Command{
	Use:     "stitch",
	Short:   "Stitch rebuilds split build archives from a CDN or S3",
	Version: StitchVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		globalConfig = cfg
		return nil
	},
	SilenceUsage: true,
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return cfg, err
	}

	flags := config.Config{
		Proxy:      proxyURL,
		Token:      token,
		AWSProfile: awsProfile,
		Headers:    utils.ParseHeaderArgs(headers),
	}
	// Flag defaults must not override the config file.
	changed := cmd.Flags().Changed
	if changed("workers") {
		flags.Workers = workers
	}
	if changed("max-concurrent") {
		flags.MaxConcurrent = maxConcurrent
	}
	if changed("timeout") {
		flags.Timeout = timeout
	}
	if changed("keep-alive-timeout") {
		flags.KATimeout = kaTimeout
	}
	if changed("user-agent") {
		flags.UserAgent = userAgent
	}
	if changed("retry") {
		flags.Retry.Attempts = retryAttempts
	}
	if limitRate != "" {
		rate, err := utils.ParseBytes(limitRate)
		if err != nil {
			return cfg, fmt.Errorf("invalid --limit-rate: %w", err)
		}
		flags.RateLimit = rate
	}
	if maxTargetSize != "" {
		size, err := utils.ParseBytes(maxTargetSize)
		if err != nil {
			return cfg, fmt.Errorf("invalid --max-target-size: %w", err)
		}
		flags.MaxTargetSize = size
	}
	cfg = cfg.Merge(flags)
	if cfg.UserAgent == "randomize" {
		cfg.UserAgent = utils.GetRandomUserAgent()
	}
	return cfg, cfg.Validate()
}

// httpClientConfig turns the merged config into client settings, moving
// credentials embedded in the proxy URL into the dedicated fields.
func httpClientConfig(cfg config.Config) utils.HTTPClientConfig {
	proxy, user, pass := cfg.Proxy, proxyUsername, proxyPassword
	parsedProxy, err := u.Parse(proxy)
	if err == nil && parsedProxy.User != nil && user == "" {
		user = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			pass = password
		}
		parsedProxy.User = nil
		proxy = parsedProxy.String()
	}
	return utils.HTTPClientConfig{
		Timeout:       cfg.Timeout,
		KATimeout:     cfg.KATimeout,
		ProxyURL:      proxy,
		ProxyUsername: user,
		ProxyPassword: pass,
		UserAgent:     cfg.UserAgent,
		Headers:       cfg.Headers,
		BearerToken:   cfg.Token,
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Str("op", "cmd").Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Path to a YAML config file")
	pf.IntVarP(&workers, "workers", "w", 2, "Number of builds to combine in parallel")
	pf.IntVarP(&maxConcurrent, "max-concurrent", "c", 0, "Max pieces in flight per target (0 = unbounded)")
	pf.DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	pf.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	pf.StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent (\"randomize\" picks a browser agent)")
	pf.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	pf.StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	pf.StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	pf.StringVar(&token, "token", "", "Bearer token sent to the piece host")
	pf.StringVar(&awsProfile, "profile", "", "AWS profile for s3:// sources and destinations")
	pf.StringVar(&limitRate, "limit-rate", "", "Bandwidth cap per build (eg. 512KB, 4MB)")
	pf.StringVar(&maxTargetSize, "max-target-size", "", "Largest target a manifest may declare (eg. 2GB, default 16GB)")
	pf.IntVar(&retryAttempts, "retry", utils.DefaultRetryAttempts, "Attempts per piece before the build fails")
	pf.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newCleanCmd())
}
