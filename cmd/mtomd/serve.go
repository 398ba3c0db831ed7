package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flashmob/go-mtom/attachment"
	_ "github.com/flashmob/go-mtom/attachment/gridfs"
	goredis_driver "github.com/flashmob/go-mtom/attachment/storage/goredis"
	redigo_driver "github.com/flashmob/go-mtom/attachment/storage/redigo"
	"github.com/flashmob/go-mtom/config"
	"github.com/flashmob/go-mtom/ev"
	"github.com/flashmob/go-mtom/log"
	"github.com/flashmob/go-mtom/server"

	_ "github.com/go-sql-driver/mysql"
)

const (
	defaultPidFile  = "/var/run/mtomd.pid"
	shutdownTimeout = 60 * time.Second
)

var (
	configPath string
	envFile    string
	pidFile    string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "start the daemon and serve the http endpoints",
		Run:   serve,
	}

	signalChannel = make(chan os.Signal, 1) // for trapping SIGHUP and friends
	mainlog       log.Logger

	bus = &ev.EventHandler{}
	srv *server.Server
	cfg *config.AppConfig
)

func init() {
	// log to stderr on startup
	var err error
	mainlog, err = log.GetLogger(log.OutputStderr.String(), log.InfoLevel.String())
	if err != nil {
		mainlog.WithError(err).Errorf("Failed creating a logger to %s", log.OutputStderr)
	}
	cfgFile := "mtomd.conf.yaml"
	if _, err := os.Stat(cfgFile); err != nil {
		cfgFile = "mtomd.conf.json"
	}
	serveCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		cfgFile, "Path to the configuration file, json or yaml")
	serveCmd.PersistentFlags().StringVarP(&envFile, "env", "e",
		".env", "Path to a dotenv file loaded before the config")
	// value from config is used if flag is empty
	serveCmd.PersistentFlags().StringVarP(&pidFile, "pidFile", "p",
		"", "Path to the pid file")
	rootCmd.AddCommand(serveCmd)
}

func sigHandler() {
	signal.Notify(signalChannel,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGINT,
		syscall.SIGUSR1,
	)
	for sig := range signalChannel {
		if sig == syscall.SIGHUP {
			reloadConfig()
		} else if sig == syscall.SIGUSR1 {
			cfg.EmitLogReopenEvents(bus)
		} else if sig == syscall.SIGTERM || sig == syscall.SIGQUIT || sig == syscall.SIGINT {
			mainlog.Infof("Shutdown signal caught")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := srv.Shutdown(ctx); err != nil {
				mainlog.WithError(err).Error("graceful shutdown timed out")
				cancel()
				os.Exit(1)
			}
			cancel()
			_ = os.Remove(cfg.PidFile)
			mainlog.Infof("Shutdown completed, exiting.")
			return
		} else {
			mainlog.Infof("Shutdown, unknown signal caught")
			return
		}
	}
}

func serve(cmd *cobra.Command, args []string) {
	logVersion()
	ac, err := readConfig(configPath, envFile, pidFile)
	if err != nil {
		mainlog.WithError(err).Fatal("Error while reading config")
	}
	if err := applyConfig(ac); err != nil {
		mainlog.WithError(err).Fatal("Error while applying config")
	}
	cfg = ac
	subscribeConfigEvents()
	srv = server.New(cfg, mainlog, bus)
	if err := srv.Start(); err != nil {
		mainlog.WithError(err).Error("Error when starting the server")
		os.Exit(1)
	}
	if err := writePid(cfg.PidFile); err != nil {
		mainlog.WithError(err).Warnf("Could not write pid file %s", cfg.PidFile)
	}
	sigHandler()
}

// readConfig is called at startup, or when a SIG_HUP is caught.
// Command line flags override the values of the file
func readConfig(path, envFile, pidFile string) (*config.AppConfig, error) {
	ac, err := config.Load(path, envFile)
	if err != nil {
		return nil, fmt.Errorf("Could not read config file: %s", err.Error())
	}
	if len(pidFile) > 0 {
		ac.PidFile = pidFile
	} else if len(ac.PidFile) == 0 {
		ac.PidFile = defaultPidFile
	}
	if verbose {
		ac.LogLevel = "debug"
	}
	return ac, nil
}

// applyConfig points the main log and the redis callbacks at what the config asks for
func applyConfig(ac *config.AppConfig) error {
	l, err := log.GetLogger(ac.LogFile, ac.LogLevel)
	if err != nil {
		return err
	}
	mainlog = l
	setRedisDriver(ac.RedisDriver)
	return nil
}

func setRedisDriver(name string) {
	switch name {
	case "goredis":
		attachment.RedisDialer = goredis_driver.Dial
	default:
		attachment.RedisDialer = redigo_driver.Dial
	}
}

func reloadConfig() {
	ac, err := readConfig(configPath, envFile, pidFile)
	if err != nil {
		mainlog.WithError(err).Error("Could not reload config")
		return
	}
	old := cfg
	cfg = ac
	ac.EmitChangeEvents(old, bus)
}

func subscribeConfigEvents() {
	handlers := map[ev.Event]interface{}{
		ev.ConfigNewConfig: func(c *config.AppConfig) {
			srv.SetConfig(c)
			mainlog.Infof("Configuration was reloaded")
		},
		ev.ConfigLogFile: func(c *config.AppConfig) {
			l, err := log.GetLogger(c.LogFile, c.LogLevel)
			if err != nil {
				mainlog.WithError(err).Errorf("Failed changing log file to %s", c.LogFile)
				return
			}
			mainlog = l
			mainlog.Infof("Main log file changed to %s", c.LogFile)
		},
		ev.ConfigLogReopen: func(c *config.AppConfig) {
			if err := mainlog.Reopen(); err != nil {
				mainlog.WithError(err).Error("Failed reopening the main log")
				return
			}
			mainlog.Infof("Main log reopened (%s)", c.LogFile)
		},
		ev.ConfigLogLevel: func(c *config.AppConfig) {
			mainlog.SetLevel(c.LogLevel)
			mainlog.Infof("Log level changed to %s", c.LogLevel)
		},
		ev.ConfigListenInterface: func(c *config.AppConfig) {
			mainlog.Warnf("listen_interface changed to %s, restart mtomd to apply it", c.ListenInterface)
		},
		ev.ConfigCallback: func(c *config.AppConfig) {
			setRedisDriver(c.RedisDriver)
			mainlog.Infof("callbacks are now caching=%q sending=%q", c.CachingCallback, c.SendingCallback)
		},
	}
	for topic, fn := range handlers {
		if err := bus.Subscribe(topic, fn); err != nil {
			mainlog.WithError(err).Errorf("could not subscribe to %s", topic)
		}
	}
}

func writePid(path string) error {
	if path == "" {
		return nil
	}
	return ioutil.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}
