package options

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/restic/snaprepo/internal/errors"
)

// Options holds options in the form key=value.
type Options map[string]string

var opts []Help

// keys below these namespaces keep their case, e.g. Hadoop configuration
// keys such as conf.fs.defaultFS.
var rawNamespaces = map[string]bool{}

// Register allows registering options so that they can be listed with List.
func Register(ns string, cfg interface{}) {
	opts = appendAllOptions(opts, ns, cfg)
}

// PreserveCase marks namespace ns so that Parse does not lower-case the part
// of a key that follows it.
func PreserveCase(ns string) {
	rawNamespaces[strings.ToLower(strings.TrimSuffix(ns, "."))] = true
}

// List returns a list of all registered options (using Register()).
func List() (list []Help) {
	list = make([]Help, len(opts))
	copy(list, opts)
	return list
}

// appendAllOptions appends all options in cfg to opts, sorted by namespace.
func appendAllOptions(opts []Help, ns string, cfg interface{}) []Help {
	for _, opt := range listOptions(cfg) {
		opt.Namespace = ns
		opts = append(opts, opt)
	}

	sort.Sort(helpList(opts))
	return opts
}

// listOptions returns a list of options of cfg.
func listOptions(cfg interface{}) (opts []Help) {
	v := reflect.Indirect(reflect.ValueOf(cfg))

	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)

		h := Help{
			Name: f.Tag.Get("option"),
			Text: f.Tag.Get("help"),
		}

		if h.Name == "" {
			continue
		}

		opts = append(opts, h)
	}

	return opts
}

// Help contains information about an option.
type Help struct {
	Namespace string
	Name      string
	Text      string
}

type helpList []Help

func (h helpList) Len() int {
	return len(h)
}

func (h helpList) Less(i, j int) bool {
	if h[i].Namespace == h[j].Namespace {
		return h[i].Name < h[j].Name
	}

	return h[i].Namespace < h[j].Namespace
}

func (h helpList) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

// normalizeKey lower-cases key, except for the remainder of keys inside a
// case-preserving namespace.
func normalizeKey(key string) string {
	ns, rest, found := strings.Cut(key, ".")
	ns = strings.ToLower(ns)
	if found && rawNamespaces[ns] {
		return ns + "." + rest
	}
	return strings.ToLower(key)
}

// splitKeyValue splits at the first equals (=) sign.
func splitKeyValue(s string) (key string, value string) {
	key, value, _ = strings.Cut(s, "=")
	key = normalizeKey(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	return key, value
}

// Parse takes a slice of key=value pairs and returns an Options type.
// The key may include namespaces, separated by dots. Example: "conf.dfs.replication=2".
func Parse(in []string) (Options, error) {
	opts := make(Options, len(in))

	for _, opt := range in {
		key, value := splitKeyValue(opt)

		if key == "" {
			return Options{}, errors.NewConfigError("option", opt, errors.New("empty key is not a valid option"))
		}

		if v, ok := opts[key]; ok && v != value {
			return Options{}, errors.NewConfigError("option", key, errors.New("key present more than once"))
		}

		opts[key] = value
	}

	return opts, nil
}

// Merge returns a new Options value containing o overlaid with other.
func (o Options) Merge(other Options) Options {
	res := make(Options, len(o)+len(other))
	for k, v := range o {
		res[k] = v
	}
	for k, v := range other {
		res[k] = v
	}
	return res
}

// Extract returns an Options type with all keys in namespace ns, which is
// also stripped from the keys.
func (o Options) Extract(ns string) Options {
	if !strings.HasSuffix(ns, ".") {
		ns += "."
	}

	opts := make(Options)

	for k, v := range o {
		if !strings.HasPrefix(k, ns) {
			continue
		}

		opts[k[len(ns):]] = v
	}

	return opts
}

// Without returns a copy of o without the keys in namespace ns.
func (o Options) Without(ns string) Options {
	if !strings.HasSuffix(ns, ".") {
		ns += "."
	}

	opts := make(Options, len(o))
	for k, v := range o {
		if strings.HasPrefix(k, ns) {
			continue
		}
		opts[k] = v
	}
	return opts
}

// Apply sets the options on dst via reflection, using the struct tag `option`.
// The namespace argument (ns) is only used for error messages.
func (o Options) Apply(ns string, dst interface{}) error {
	v := reflect.ValueOf(dst).Elem()

	fields := make(map[string]reflect.StructField)

	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		tag := f.Tag.Get("option")

		if tag == "" {
			continue
		}

		if _, ok := fields[tag]; ok {
			panic("option tag " + tag + " is not unique in " + v.Type().Name())
		}

		fields[tag] = f
	}

	for key, value := range o {
		name := key
		if ns != "" {
			name = ns + "." + key
		}

		field, ok := fields[key]
		if !ok {
			return errors.NewConfigError("option", name, errors.New("option is not known"))
		}

		if err := setField(v.Field(field.Index[0]), value); err != nil {
			return errors.NewConfigError("option "+name, value, err)
		}
	}

	return nil
}

func setField(f reflect.Value, value string) error {
	switch f.Type().Name() {
	case "string":
		f.SetString(value)

	case "int":
		vi, err := strconv.ParseInt(value, 0, 32)
		if err != nil {
			return err
		}
		f.SetInt(vi)

	case "uint":
		vi, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return err
		}
		f.SetUint(vi)

	case "bool":
		vi, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		f.SetBool(vi)

	case "Duration":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))

	case "Size":
		s, err := ParseSize(value)
		if err != nil {
			return err
		}
		f.SetInt(int64(s))

	case "SecretString":
		f.Set(reflect.ValueOf(NewSecretString(value)))

	default:
		panic("type " + f.Type().Name() + " not handled")
	}

	return nil
}

// Size is a number of bytes. Options of this type accept unit suffixes, which
// are interpreted as powers of 1024 ("100k", "64mb", "1g").
type Size int64

// ParseSize parses s into a Size.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}

	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.Errorf("negative size %v", s)
	}
	return Size(n), nil
}

func (s Size) String() string {
	return units.BytesSize(float64(s))
}
