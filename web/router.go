package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/deemkeen/loxodon/activitypub"
	"github.com/deemkeen/loxodon/db"
	"github.com/deemkeen/loxodon/domain"
	"github.com/deemkeen/loxodon/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const activityJson = "application/activity+json; charset=utf-8"

// Server bundles everything the HTTP layer needs.
type Server struct {
	Conf       *util.AppConfig
	DB         *db.DB
	Processor  *activitypub.Processor
	Dispatcher *activitypub.Dispatcher
	Resolver   activitypub.Resolver
	Registry   *prometheus.Registry
}

// requestHost selects the tenant. The configured domain wins so reverse
// proxies rewriting Host don't break identifier derivation.
func (s *Server) requestHost(c *gin.Context) string {
	if s.Conf.Conf.Domain != "" {
		return s.Conf.Conf.Domain
	}
	return c.Request.Host
}

// Router sets up all routes and blocks serving.
func (s *Server) Router() error {
	log.Printf("Starting server on %s:%d", s.Conf.Conf.Host, s.Conf.Conf.HttpPort)
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter rate limit for federation endpoints: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)

	// Max 1MB request body size for inbound activities
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	g.GET("/ap/users/:handle", func(c *gin.Context) {
		c.Header("Content-Type", activityJson)
		doc, err := s.GetActor(c.Request.Context(), s.requestHost(c), c.Param("handle"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
			return
		}
		c.JSON(200, doc)
	})

	g.POST("/ap/inbox/:handle", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		s.handleInbox(c)
	})

	g.GET("/ap/inbox/:handle", func(c *gin.Context) {
		s.collection(c, "inbox", s.Dispatcher.Inbox, s.Dispatcher.CountInbox)
	})

	g.GET("/ap/outbox/:handle", func(c *gin.Context) {
		s.collection(c, "outbox", s.Dispatcher.Outbox, s.Dispatcher.CountOutbox)
	})

	g.GET("/ap/liked/:handle", func(c *gin.Context) {
		s.collection(c, "liked", s.Dispatcher.Liked, s.Dispatcher.CountLiked)
	})

	g.GET("/ap/followers/:handle", func(c *gin.Context) {
		s.actorCollection(c, "followers", s.Dispatcher.Followers, s.Dispatcher.CountFollowers)
	})

	g.GET("/ap/following/:handle", func(c *gin.Context) {
		s.actorCollection(c, "following", s.Dispatcher.Following, s.Dispatcher.CountFollowing)
	})

	// Locally minted activities and content objects, dereferenced by
	// remote servers at their canonical identifiers. Static segments like
	// /ap/users take priority over the kind parameter.
	g.GET("/ap/:kind/:uuid", func(c *gin.Context) {
		raw, err := s.GetStoredObject(c.Request.Context(), s.requestHost(c), c.Param("kind"), c.Param("uuid"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Object not found"})
			return
		}
		c.Data(200, activityJson, raw)
	})

	g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"links": []gin.H{{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				"href": fmt.Sprintf("%s://%s/nodeinfo/2.0", s.Conf.Conf.Protocol, s.requestHost(c)),
			}},
		})
	})

	g.GET("/nodeinfo/2.0", func(c *gin.Context) {
		c.JSON(200, s.NodeInfo())
	})

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")

		resource := c.Query("resource")
		if resource == "" || !strings.HasPrefix(resource, "acct:") {
			c.String(404, GetWebFingerNotFound())
			return
		}

		resource = strings.TrimPrefix(resource, "acct:")
		resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", s.requestHost(c)))
		doc, err := s.GetWebfinger(c.Request.Context(), s.requestHost(c), resource)
		if err != nil {
			c.String(404, GetWebFingerNotFound())
			return
		}
		c.JSON(200, doc)
	})

	// RSS rendering of the outbox
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")

		rss, err := s.GetOutboxRSS(c.Request.Context(), s.requestHost(c))
		if err != nil {
			c.String(404, "")
			return
		}
		c.String(200, rss)
	})

	if s.Registry != nil {
		g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))
	}

	return g.Run(fmt.Sprintf(":%d", s.Conf.Conf.HttpPort))
}

// handleInbox authenticates the sender via HTTP signature and hands the
// activity to the processor.
func (s *Server) handleInbox(c *gin.Context) {
	log.Printf("POST /ap/inbox/%s", c.Param("handle"))

	if c.GetHeader("Signature") == "" {
		log.Println("Inbox: missing HTTP signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing signature"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: failed to read body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	activity, err := domain.ParseActivity(body)
	if err != nil {
		log.Printf("Inbox: failed to parse activity: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid activity"})
		return
	}

	log.Printf("Inbox: received %s from %s", activity.Type, activity.Actor.Id)

	actor, err := s.Resolver.ResolveActor(c.Request.Context(), activity.Actor.Id)
	if err != nil {
		log.Printf("Inbox: failed to fetch actor %s: %v", activity.Actor.Id, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to verify actor"})
		return
	}

	if _, err := activitypub.VerifyRequest(c.Request, actor.PublicKey.PublicKeyPem); err != nil {
		log.Printf("Inbox: signature verification failed: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	if err := s.Processor.Process(c.Request.Context(), s.requestHost(c), activity); err != nil {
		log.Printf("Inbox: failed to process %s: %v", activity.Type, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process activity"})
		return
	}

	c.Status(http.StatusAccepted)
}

type pageFunc func(ctx context.Context, host, cursor string) (*activitypub.Page, error)
type actorPageFunc func(ctx context.Context, host, cursor string) (*activitypub.ActorPage, error)
type countFunc func(ctx context.Context, host string) (int, error)

// collection renders an activity collection: without a cursor the summary
// document pointing at the first page, with one the page itself.
func (s *Server) collection(c *gin.Context, name string, page pageFunc, count countFunc) {
	c.Header("Content-Type", activityJson)

	host := s.requestHost(c)
	collectionId := fmt.Sprintf("%s://%s/ap/%s/%s", s.Conf.Conf.Protocol, host, name, c.Param("handle"))

	total, err := count(c.Request.Context(), host)
	if err != nil {
		c.JSON(404, gin.H{"error": "Collection not found"})
		return
	}

	cursor, hasCursor := c.GetQuery("cursor")
	if !hasCursor {
		c.JSON(200, gin.H{
			"@context":   "https://www.w3.org/ns/activitystreams",
			"id":         collectionId,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      fmt.Sprintf("%s?cursor=%s", collectionId, activitypub.FirstCursor()),
		})
		return
	}

	result, err := page(c.Request.Context(), host, cursor)
	if err != nil {
		c.JSON(404, gin.H{"error": "Collection not found"})
		return
	}

	doc := gin.H{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           fmt.Sprintf("%s?cursor=%s", collectionId, cursor),
		"type":         "OrderedCollectionPage",
		"partOf":       collectionId,
		"totalItems":   total,
		"orderedItems": result.Items,
	}
	if result.NextCursor != nil {
		doc["next"] = fmt.Sprintf("%s?cursor=%s", collectionId, *result.NextCursor)
	}

	c.JSON(200, doc)
}

// actorCollection renders followers/following, whose items are bare actor
// identifiers.
func (s *Server) actorCollection(c *gin.Context, name string, page actorPageFunc, count countFunc) {
	c.Header("Content-Type", activityJson)

	host := s.requestHost(c)
	collectionId := fmt.Sprintf("%s://%s/ap/%s/%s", s.Conf.Conf.Protocol, host, name, c.Param("handle"))

	total, err := count(c.Request.Context(), host)
	if err != nil {
		c.JSON(404, gin.H{"error": "Collection not found"})
		return
	}

	cursor, hasCursor := c.GetQuery("cursor")
	if !hasCursor {
		c.JSON(200, gin.H{
			"@context":   "https://www.w3.org/ns/activitystreams",
			"id":         collectionId,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      fmt.Sprintf("%s?cursor=%s", collectionId, activitypub.FirstCursor()),
		})
		return
	}

	result, err := page(c.Request.Context(), host, cursor)
	if err != nil {
		c.JSON(404, gin.H{"error": "Collection not found"})
		return
	}

	items := result.Items
	if items == nil {
		items = []string{}
	}

	doc := gin.H{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           fmt.Sprintf("%s?cursor=%s", collectionId, cursor),
		"type":         "OrderedCollectionPage",
		"partOf":       collectionId,
		"totalItems":   total,
		"orderedItems": items,
	}
	if result.NextCursor != nil {
		doc["next"] = fmt.Sprintf("%s?cursor=%s", collectionId, *result.NextCursor)
	}

	c.JSON(200, doc)
}
