package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/medcat/steam-mist/cacher"
	"github.com/medcat/steam-mist/config"
	"github.com/medcat/steam-mist/logger"
	"github.com/medcat/steam-mist/utils"
	"github.com/medcat/steam-mist/webapi"
)

// argList collects repeated -arg name=value flags.
type argList webapi.Arguments

func (l argList) String() string {
	pairs := make([]string, 0, len(l))
	for k, v := range l {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)

	return strings.Join(pairs, ",")
}

func (l argList) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("argument %q is not name=value", s)
	}

	l[k] = v
	return nil
}

func (a *app) runAPI(ctx context.Context, args []string) error {
	c := a.cfg.WebAPI
	methodArgs := argList{}

	fs := flag.NewFlagSet("api", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	domain := fs.String("domain", c.Domain, "API host")
	key := fs.String("key", c.Key, "Web API key")
	version := fs.Int("version", 1, "method version")
	connector := fs.String("connector", c.Connector, "lazy or eager")
	backend := fs.String("cache", c.Cache.Backend, "reply cache: none, memory, file, sqlite or redis")
	cacheMode := fs.String("cache-mode", c.Cache.Mode, "http (revalidate) or file (reuse)")
	cachePath := fs.String("cache-path", c.Cache.Path, "file or sqlite cache location")
	force := fs.Bool("force", false, "ignore any cached reply")
	field := fs.String("get", "", "print only this top-level field of the reply")
	stats := fs.Bool("stats", false, "print cache statistics after the call")
	fs.Var(methodArgs, "arg", "request argument name=value (repeatable)")
	fs.Usage = func() {
		fmt.Fprintln(a.stderr, "usage: steammist api [flags] <interface> <method>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errUsage
	}

	mode, err := webapi.ParseConnectorMode(*connector)
	if err != nil {
		return err
	}

	defaults := webapi.Arguments(c.Arguments).Merge(nil)
	if *key != "" {
		defaults["key"] = *key
	}

	session := webapi.NewSession(webapi.Config{
		Domain:           *domain,
		Mode:             mode,
		DefaultArguments: defaults,
		HTTPClient:       &http.Client{Timeout: c.Timeout()},
		Logger:           a.log,
	})

	method := session.Interface(fs.Arg(0)).Method(fs.Arg(1), *version).
		WithArguments(webapi.Arguments(methodArgs))

	cc := c.Cache
	cc.Backend, cc.Path = *backend, *cachePath
	store, err := openCache(ctx, cc, a.log)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()

		cm, err := webapi.ParseCacheMode(*cacheMode)
		if err != nil {
			return err
		}
		method = method.WithCaching(webapi.CachePolicy{Store: store, Mode: cm, TTL: cc.TTL()})
	}

	conn, err := method.Get(ctx)
	if err != nil {
		return err
	}

	var data map[string]any
	if *force {
		data, err = conn.Refresh(ctx, true)
	} else {
		data, err = conn.Data(ctx)
	}
	if err != nil {
		return err
	}

	var out any = data
	if *field != "" {
		out = data[*field]
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	fmt.Fprintln(a.stdout, string(b))

	if *stats {
		return a.printCacheStats(ctx, method, cc.Backend, store)
	}

	return nil
}

// openCache opens the backend named in cfg. "none" and "" give a nil store.
func openCache(ctx context.Context, cfg config.CacheConfig, log logger.Logger) (cacher.Cacher[webapi.Entry], error) {
	switch strings.ToLower(cfg.Backend) {
	case "", config.CacheNone:
		return nil, nil
	case config.CacheMemory:
		return cacher.NewMemoryCacher[webapi.Entry](cache.NoExpiration, 10*time.Minute), nil
	case config.CacheFile:
		c, err := cacher.NewFileCacher[webapi.Entry](cfg.Path)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.CacheSQLite:
		c, err := cacher.NewSQLiteCacher[webapi.Entry](cfg.Path)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		log.Debug("redis cache connected", logger.Field{Key: "addr", Value: cfg.RedisAddr})
		return &ownedClientCacher{
			Cacher: cacher.NewRedisCacher[webapi.Entry](client, cfg.RedisNamespace),
			client: client,
		}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// ownedClientCacher closes the redis client the CLI opened for it.
type ownedClientCacher struct {
	cacher.Cacher[webapi.Entry]
	client *redis.Client
}

func (c *ownedClientCacher) Close() error {
	return c.client.Close()
}

func (a *app) printCacheStats(ctx context.Context, method *webapi.Method, backend string, store cacher.Cacher[webapi.Entry]) error {
	tw := tablewriter.NewWriter(a.stdout)
	tw.SetHeader([]string{"Setting", "Value"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	tw.Append([]string{"Request", method.RequestURI().String()})
	tw.Append([]string{"Cached", utils.BoolToYesNo(method.Cached())})
	tw.Append([]string{"Backend", backend})

	if store != nil {
		n, err := store.ItemCount(ctx)
		if err != nil {
			return fmt.Errorf("count cache entries: %w", err)
		}
		tw.Append([]string{"Entries", strconv.Itoa(n)})

		if entry, found, err := store.Get(ctx, method.RequestURI().String()); err == nil && found {
			tw.Append([]string{"Last modified", entry.LastModified.Format(time.RFC1123)})
		}
	}

	tw.Render()
	return nil
}
