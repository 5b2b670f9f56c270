package platform

import (
	"strings"
	"sync"
	"time"
)

// Locale is a language and optional region, e.g. en-US.
type Locale struct {
	Language string
	Country  string
}

func (l Locale) String() string {
	if l.Country == "" {
		return l.Language
	}
	return l.Language + "-" + l.Country
}

// ParseLocale accepts "en", "en-US" or "en_US".
func ParseLocale(s string) Locale {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "-")
	lang, country, _ := strings.Cut(s, "-")
	return Locale{Language: strings.ToLower(lang), Country: strings.ToUpper(country)}
}

// LocaleProvider reports the live locale.
type LocaleProvider interface {
	CurrentLocale() Locale
}

// AppInfoProvider reports host application identity.
type AppInfoProvider interface {
	AppVersion() string
	PackageName() string
}

// ConnectivityProvider reports the current network type ("wifi", "cell", "none").
type ConnectivityProvider interface {
	ConnectionType() string
}

// PushAuthorizationProvider reports notification permission state.
type PushAuthorizationProvider interface {
	AuthorizationStatus() string
	NotificationTypes() []string
}

// ChannelIDProvider reports the device's registered channel, or "".
type ChannelIDProvider interface {
	ChannelID() string
}

// Environment bundles the capability providers. Every provider is optional;
// the accessor methods return zero values for missing ones.
type Environment struct {
	Locale            LocaleProvider
	AppInfo           AppInfoProvider
	Connectivity      ConnectivityProvider
	PushAuthorization PushAuthorizationProvider
	Channel           ChannelIDProvider

	// DeviceFamily names the platform in request paths and headers.
	DeviceFamily string
}

func (e *Environment) CurrentLocale() Locale {
	if e == nil || e.Locale == nil {
		return Locale{}
	}
	return e.Locale.CurrentLocale()
}

func (e *Environment) AppVersion() string {
	if e == nil || e.AppInfo == nil {
		return ""
	}
	return e.AppInfo.AppVersion()
}

func (e *Environment) PackageName() string {
	if e == nil || e.AppInfo == nil {
		return ""
	}
	return e.AppInfo.PackageName()
}

func (e *Environment) ConnectionType() string {
	if e == nil || e.Connectivity == nil {
		return ""
	}
	return e.Connectivity.ConnectionType()
}

func (e *Environment) AuthorizationStatus() string {
	if e == nil || e.PushAuthorization == nil {
		return ""
	}
	return e.PushAuthorization.AuthorizationStatus()
}

func (e *Environment) NotificationTypes() []string {
	if e == nil || e.PushAuthorization == nil {
		return nil
	}
	return e.PushAuthorization.NotificationTypes()
}

func (e *Environment) ChannelID() string {
	if e == nil || e.Channel == nil {
		return ""
	}
	return e.Channel.ChannelID()
}

func (e *Environment) Platform() string {
	if e == nil || e.DeviceFamily == "" {
		return "linux"
	}
	return e.DeviceFamily
}

// Timezone returns the local zone name.
func (e *Environment) Timezone() string {
	return time.Local.String()
}

// Static is a settable implementation of every provider, for tools and tests.
type Static struct {
	mu                  sync.RWMutex
	locale              Locale
	appVersion          string
	packageName         string
	connectionType      string
	authorizationStatus string
	notificationTypes   []string
	channelID           string
}

// StaticOptions seeds a Static provider.
type StaticOptions struct {
	Locale              string
	AppVersion          string
	PackageName         string
	ConnectionType      string
	AuthorizationStatus string
	NotificationTypes   []string
	ChannelID           string
}

// NewStatic creates a Static provider.
func NewStatic(opts StaticOptions) *Static {
	return &Static{
		locale:              ParseLocale(opts.Locale),
		appVersion:          opts.AppVersion,
		packageName:         opts.PackageName,
		connectionType:      opts.ConnectionType,
		authorizationStatus: opts.AuthorizationStatus,
		notificationTypes:   append([]string(nil), opts.NotificationTypes...),
		channelID:           opts.ChannelID,
	}
}

// Environment returns an Environment with s behind every provider.
func (s *Static) Environment(deviceFamily string) *Environment {
	return &Environment{
		Locale:            s,
		AppInfo:           s,
		Connectivity:      s,
		PushAuthorization: s,
		Channel:           s,
		DeviceFamily:      deviceFamily,
	}
}

func (s *Static) CurrentLocale() Locale {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locale
}

func (s *Static) SetLocale(locale string) {
	s.mu.Lock()
	s.locale = ParseLocale(locale)
	s.mu.Unlock()
}

func (s *Static) AppVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appVersion
}

func (s *Static) SetAppVersion(v string) {
	s.mu.Lock()
	s.appVersion = v
	s.mu.Unlock()
}

func (s *Static) PackageName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.packageName
}

func (s *Static) ConnectionType() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionType
}

func (s *Static) SetConnectionType(v string) {
	s.mu.Lock()
	s.connectionType = v
	s.mu.Unlock()
}

func (s *Static) AuthorizationStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorizationStatus
}

func (s *Static) NotificationTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.notificationTypes...)
}

func (s *Static) ChannelID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channelID
}
