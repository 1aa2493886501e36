package coreaffinity_internal

import (
	"github.com/bgp59/logrusx"
	"github.com/sirupsen/logrus"
)

type LoggerConfig = logrusx.LoggerConfig

var RootLogger = logrusx.NewCollectableLogger()

// Public access to the root logger, needed for testing:
func GetRootLogger() *logrusx.CollectableLogger { return RootLogger }

func init() {
	// Strip the module root, i.e. 2 dirs up from here, from the source file
	// path of log entries:
	RootLogger.AddCallerSrcPathPrefix(2)
}

func DefaultLoggerConfig() *LoggerConfig {
	return logrusx.DefaultLoggerConfig()
}

// Set the logger based on config:
func SetLogger(logCfg *LoggerConfig) error {
	return RootLogger.SetLogger(logCfg)
}

func NewCompLogger(compName string) *logrus.Entry {
	return RootLogger.NewCompLogger(compName)
}
