package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/deemkeen/loxodon/activitypub"
	"github.com/deemkeen/loxodon/db"
	"github.com/deemkeen/loxodon/domain"
	"github.com/deemkeen/loxodon/util"
	"github.com/deemkeen/loxodon/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.New(util.ResolveFilePath(conf.Conf.DbFile), conf.Conf.Protocol)
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	ctx := context.Background()

	site, acc, err := bootstrapSite(ctx, database, conf.Conf.Domain)
	if err != nil {
		log.Fatalln(err)
	}
	log.Printf("Serving site %s as %s", site.Host, acc.ApId)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := activitypub.NewMetrics(registry)

	lookup := activitypub.NewLookup(database, util.UserAgent(), metrics)
	sender := activitypub.NewHTTPSender(util.UserAgent())
	proofs := &activitypub.RsaProofVerifier{Resolver: lookup}

	processor := activitypub.NewProcessor(activitypub.Processor{
		Objects:  database,
		Lists:    database,
		Accounts: database,
		Posts:    database,
		Sites:    database,
		Resolver: lookup,
		Sender:   sender,
		Proofs:   proofs,
		Metrics:  metrics,
	})

	dispatcher, err := activitypub.NewDispatcher(database, database, database, database, lookup, nil, conf.Conf.PageSize)
	if err != nil {
		log.Fatalln(err)
	}

	server := &web.Server{
		Conf:       conf,
		DB:         database,
		Processor:  processor,
		Dispatcher: dispatcher,
		Resolver:   lookup,
		Registry:   registry,
	}

	if err := server.Router(); err != nil {
		log.Fatalln(err)
	}
}

// bootstrapSite makes sure the configured domain has a site row and a
// default account with a keypair. Key generation happens once, on the
// first start against a fresh database.
func bootstrapSite(ctx context.Context, database *db.DB, host string) (*domain.Site, *domain.Account, error) {
	site, err := database.SiteByHost(ctx, host)
	if err != nil {
		return nil, nil, err
	}
	if site == nil {
		log.Printf("Creating site for %s", host)
		site, err = database.CreateSite(ctx, host)
		if err != nil {
			return nil, nil, err
		}
	}

	acc, err := database.DefaultAccountForSite(ctx, site)
	if err == nil {
		return site, acc, nil
	}
	if !errors.Is(err, db.ErrNoDefaultAccount) {
		return nil, nil, err
	}

	log.Printf("Creating default account for %s", host)
	keys := util.GeneratePemKeypair()
	acc, err = database.CreateInternalAccount(ctx, site, web.DefaultHandle, host, "", keys)
	if err != nil {
		return nil, nil, err
	}

	return site, acc, nil
}
