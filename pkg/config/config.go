package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/kabili207/mesh-telegraph/pkg/printer"
	"github.com/spf13/viper"
)

const (
	ModeClient = "client"
	ModeBroker = "broker"

	PrinterNetwork = "network"
	PrinterDevice  = "device"
	PrinterLog     = "log"
)

type Configuration struct {
	LogLevel     string           `mapstructure:"log_level"`
	MeshSettings MeshSettings     `mapstructure:"mesh"`
	MQTT         MQTTSettings     `mapstructure:"mqtt"`
	Printer      PrinterSettings  `mapstructure:"printer"`
	RateLimit    RateLimit        `mapstructure:"rate_limit"`
	Dedup        DedupSettings    `mapstructure:"dedup"`
	Workers      int              `mapstructure:"workers"`
	Database     DatabaseSettings `mapstructure:"database"`
	HTTP         HTTPSettings     `mapstructure:"http"`
}

type MeshSettings struct {
	// Channels are tried in order when decrypting a packet.
	Channels []MeshChannelDef `mapstructure:"channels"`
}

type MeshChannelDef struct {
	Name string `mapstructure:"name"`
	Key  string `mapstructure:"key"`
}

type MQTTSettings struct {
	Mode     string         `mapstructure:"mode"`
	Server   string         `mapstructure:"server"`
	ClientID string         `mapstructure:"client_id"`
	Username string         `mapstructure:"username"`
	Password string         `mapstructure:"password"`
	Topics   []string       `mapstructure:"topics"`
	Broker   BrokerSettings `mapstructure:"broker"`
}

type BrokerSettings struct {
	ListenAddr     string       `mapstructure:"listen_addr"`
	AllowAnonymous bool         `mapstructure:"allow_anonymous"`
	Users          []BrokerUser `mapstructure:"users"`
}

// BrokerUser is a gateway allowed to publish to the embedded broker. The
// password is stored as a salted SHA-256 hash, see cmd/genpass.
type BrokerUser struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Salt         string `mapstructure:"salt"`
}

type PrinterSettings struct {
	Type      string        `mapstructure:"type"`
	Address   string        `mapstructure:"address"`
	Device    string        `mapstructure:"device"`

	// USBVendorID and USBProductID select a USB printer by id, e.g. 04b8 and
	// 0202. When set they take precedence over Device.
	USBVendorID  string `mapstructure:"usb_vendor_id"`
	USBProductID string `mapstructure:"usb_product_id"`

	Timeout   time.Duration `mapstructure:"timeout"`
	QueueSize int           `mapstructure:"queue_size"`

	// Timezone of the receive time printed on telegrams. Empty means local time.
	Timezone string `mapstructure:"timezone"`
}

// UsesUSBID reports whether the printer is addressed by USB vendor and
// product id rather than by device path.
func (p PrinterSettings) UsesUSBID() bool {
	return p.USBVendorID != "" && p.USBProductID != ""
}

func (p PrinterSettings) USBIDs() (vendor, product uint16, err error) {
	if vendor, err = printer.ParseUSBID(p.USBVendorID); err != nil {
		return 0, 0, fmt.Errorf("printer.usb_vendor_id: %w", err)
	}
	if product, err = printer.ParseUSBID(p.USBProductID); err != nil {
		return 0, 0, fmt.Errorf("printer.usb_product_id: %w", err)
	}
	return vendor, product, nil
}

type RateLimit struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
}

type DedupSettings struct {
	Window   time.Duration `mapstructure:"window"`
	Capacity uint64        `mapstructure:"capacity"`
}

type DatabaseSettings struct {
	Driver  string        `mapstructure:"driver"`
	Path    string        `mapstructure:"path"`
	DSN     string        `mapstructure:"dsn"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HTTPSettings struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("mesh.channels", []map[string]any{{"name": "LongFast", "key": "AQ=="}})

	v.SetDefault("mqtt.mode", ModeClient)
	v.SetDefault("mqtt.server", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topics", []string{"msh/US/2/e"})
	v.SetDefault("mqtt.broker.listen_addr", ":1883")
	v.SetDefault("mqtt.broker.allow_anonymous", false)

	v.SetDefault("printer.type", PrinterLog)
	v.SetDefault("printer.address", "")
	v.SetDefault("printer.device", "/dev/usb/lp0")
	v.SetDefault("printer.usb_vendor_id", "")
	v.SetDefault("printer.usb_product_id", "")
	v.SetDefault("printer.timeout", 5*time.Second)
	v.SetDefault("printer.queue_size", 32)
	v.SetDefault("printer.timezone", "")

	v.SetDefault("rate_limit.cooldown", 60*time.Second)
	v.SetDefault("dedup.window", time.Duration(0))
	v.SetDefault("dedup.capacity", 0)
	v.SetDefault("workers", 4)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/telegraph.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.timeout", 2*time.Second)

	v.SetDefault("http.listen_addr", ":8080")
}

// bindLegacyEnv keeps the environment variables of older deployments working.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("rate_limit.cooldown", "TELEGRAPH_RATE_LIMIT_COOLDOWN", "MESSAGE_RATE_LIMIT_SECONDS")
	_ = v.BindEnv("mqtt.topics", "TELEGRAPH_MQTT_TOPICS", "MQTT_TOPICS")
	_ = v.BindEnv("mqtt.username", "TELEGRAPH_MQTT_USERNAME", "MQTT_USER")
	_ = v.BindEnv("mqtt.password", "TELEGRAPH_MQTT_PASSWORD", "MQTT_PASS")
	_ = v.BindEnv("printer.type", "TELEGRAPH_PRINTER_TYPE", "PRINTER_TYPE")
	_ = v.BindEnv("printer.address", "TELEGRAPH_PRINTER_ADDRESS", "PRINTER_IP")
	_ = v.BindEnv("printer.device", "TELEGRAPH_PRINTER_DEVICE", "PRINTER_USB_DEVICE")
	_ = v.BindEnv("printer.usb_vendor_id", "TELEGRAPH_PRINTER_USB_VENDOR_ID", "PRINTER_USB_VENDOR_ID")
	_ = v.BindEnv("printer.usb_product_id", "TELEGRAPH_PRINTER_USB_PRODUCT_ID", "PRINTER_USB_PRODUCT_ID")
	_ = v.BindEnv("legacy.channel_key", "CHANNEL_KEY")
	_ = v.BindEnv("legacy.mqtt_srv", "MQTT_SRV")
	_ = v.BindEnv("legacy.mqtt_port", "MQTT_PORT")
}

// Load reads the configuration file at path, or config.yaml from the working
// directory or /etc/mesh-telegraph when path is empty, and applies
// TELEGRAPH_* environment overrides.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TELEGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mesh-telegraph")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Configuration
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyLegacy(v, &cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyLegacy(v *viper.Viper, cfg *Configuration) {
	if key := v.GetString("legacy.channel_key"); key != "" {
		cfg.MeshSettings.Channels = []MeshChannelDef{{Name: "default", Key: key}}
	}
	if host := v.GetString("legacy.mqtt_srv"); host != "" {
		port := v.GetString("legacy.mqtt_port")
		if port == "" {
			port = "1883"
		}
		cfg.MQTT.Server = "tcp://" + net.JoinHostPort(host, port)
	}
}

func (c *Configuration) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.MQTT.Mode = strings.ToLower(strings.TrimSpace(c.MQTT.Mode))
	c.Printer.Type = strings.ToLower(strings.TrimSpace(c.Printer.Type))
	if c.Printer.Type == "usb" {
		c.Printer.Type = PrinterDevice
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))

	topics := make([]string, 0, len(c.MQTT.Topics))
	for _, t := range c.MQTT.Topics {
		if t = NormalizeTopic(t); t != "" {
			topics = append(topics, t)
		}
	}
	c.MQTT.Topics = topics
}

// NormalizeTopic turns a topic root such as msh/US/2/e into the wildcard
// filter msh/US/2/e/#. Filters that already end in a wildcard are kept.
func NormalizeTopic(t string) string {
	t = strings.TrimSpace(t)
	if t == "" || strings.HasSuffix(t, "#") {
		return t
	}
	return strings.TrimRight(t, "/") + "/#"
}

func (c *Configuration) Validate() error {
	var errs []error

	switch c.MQTT.Mode {
	case ModeClient:
		if c.MQTT.Server == "" {
			errs = append(errs, errors.New("mqtt.server is required in client mode"))
		}
	case ModeBroker:
		if len(c.MQTT.Broker.Users) == 0 && !c.MQTT.Broker.AllowAnonymous {
			errs = append(errs, errors.New("mqtt.broker.users is empty and anonymous access is disabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mqtt.mode %q", c.MQTT.Mode))
	}
	if len(c.MQTT.Topics) == 0 {
		errs = append(errs, errors.New("mqtt.topics must list at least one topic"))
	}

	switch c.Printer.Type {
	case PrinterNetwork:
		if c.Printer.Address == "" {
			errs = append(errs, errors.New("printer.address is required for network printers"))
		}
	case PrinterDevice:
		if c.Printer.Device == "" && !c.Printer.UsesUSBID() {
			errs = append(errs, errors.New("printer.device is required for device printers"))
		}
		if (c.Printer.USBVendorID == "") != (c.Printer.USBProductID == "") {
			errs = append(errs, errors.New("printer.usb_vendor_id and printer.usb_product_id must be set together"))
		} else if c.Printer.UsesUSBID() {
			if _, _, err := c.Printer.USBIDs(); err != nil {
				errs = append(errs, err)
			}
		}
	case PrinterLog:
	default:
		errs = append(errs, fmt.Errorf("unknown printer.type %q", c.Printer.Type))
	}
	if c.Printer.Timezone != "" {
		if _, err := time.LoadLocation(c.Printer.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("printer.timezone: %w", err))
		}
	}

	switch c.Database.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	if c.RateLimit.Cooldown < 0 {
		errs = append(errs, errors.New("rate_limit.cooldown must not be negative"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}

	return errors.Join(errs...)
}

// secondsToDurationHook accepts bare numbers for durations and reads them as
// seconds, e.g. MESSAGE_RATE_LIMIT_SECONDS=60.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(time.Duration(0)) || f.Kind() != reflect.String {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return data, nil
	}
}
