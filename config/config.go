package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port       string `mapstructure:"PORT"`
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`

	FFmpegBin  string `mapstructure:"FFMPEG_BIN"`
	FFprobeBin string `mapstructure:"FFPROBE_BIN"`

	DatabasePath string `mapstructure:"DATABASE_PATH"`

	PollInterval    time.Duration `mapstructure:"POLL_INTERVAL"`
	DownloadTimeout time.Duration `mapstructure:"DOWNLOAD_TIMEOUT"`
	ProbeTimeout    time.Duration `mapstructure:"PROBE_TIMEOUT"`
	ConcatTimeout   time.Duration `mapstructure:"CONCAT_TIMEOUT"`
	MergeTimeout    time.Duration `mapstructure:"MERGE_TIMEOUT"`
	LongformTimeout time.Duration `mapstructure:"LONGFORM_TIMEOUT"`

	MaxInputSize int64  `mapstructure:"MAX_INPUT_SIZE"`
	EncoderArgs  string `mapstructure:"ENCODER_ARGS"`

	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	StorageEndpoint   string `mapstructure:"STORAGE_ENDPOINT"`
	StorageBucket     string `mapstructure:"STORAGE_BUCKET"`
	StorageAccessKey  string `mapstructure:"STORAGE_ACCESS_KEY"`
	StoragePublicBase string `mapstructure:"STORAGE_PUBLIC_BASE"`
}

// stringToDurationHookFunc parses Go duration strings into time.Duration.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable size strings like "200MB".
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Defaults are strings where a decode hook applies.
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("FFMPEG_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("DATABASE_PATH", "jobs.db")
	vp.SetDefault("POLL_INTERVAL", "5s")
	vp.SetDefault("DOWNLOAD_TIMEOUT", "5m")
	vp.SetDefault("PROBE_TIMEOUT", "30s")
	vp.SetDefault("CONCAT_TIMEOUT", "10m")
	vp.SetDefault("MERGE_TIMEOUT", "1h")
	vp.SetDefault("LONGFORM_TIMEOUT", "2h")
	vp.SetDefault("MAX_INPUT_SIZE", "2GB")
	vp.SetDefault("ENCODER_ARGS", "-c:v libx264 -preset medium -crf 23 -c:a aac -b:a 128k")
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("STORAGE_ENDPOINT", "")
	vp.SetDefault("STORAGE_BUCKET", "clipforge")
	vp.SetDefault("STORAGE_ACCESS_KEY", "")
	vp.SetDefault("STORAGE_PUBLIC_BASE", "")

	vp.SetConfigName("clipforge_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/clipforge/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("CLIPFORGE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
