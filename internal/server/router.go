package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"storefront/internal/handlers"
	"storefront/internal/middleware"
)

type Options struct {
	Deps           *handlers.Deps
	Logger         zerolog.Logger
	Registry       *prometheus.Registry
	AllowedOrigins []string
	RateLimit      int
	AuthRateLimit  int
	RateWindow     time.Duration
	// UploadDir is served under /public/uploads when images are stored locally.
	UploadDir string
	Version   string
	Started   time.Time
}

// NewRouter wires every route of the API.
func NewRouter(opts Options) (*gin.Engine, error) {
	if err := handlers.RegisterValidators(); err != nil {
		return nil, err
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	d := opts.Deps

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(opts.Logger),
		middleware.RequestLogger(opts.Logger),
		middleware.NewMetrics(opts.Registry).Handler(),
		cors.New(corsConfig(opts.AllowedOrigins)),
	)

	if opts.UploadDir != "" {
		r.Static("/public/uploads", opts.UploadDir)
	}

	r.GET("/", handlers.Home(opts.Version))
	r.GET("/health", handlers.Health(d, opts.Started))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))

	authn := middleware.NewAuthenticator(d.Issuer, d.Denylist)
	authed := authn.AuthGuard()
	admin := authn.AdminAuth()
	optional := authn.OptionalAuth()

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(d.Cache, "api", opts.RateLimit, opts.RateWindow))

	auth := api.Group("/auth")
	auth.Use(middleware.RateLimit(d.Cache, "auth", opts.AuthRateLimit, opts.RateWindow))
	{
		auth.POST("/register", handlers.Register(d))
		auth.POST("/login", handlers.Login(d))
		auth.POST("/admin/login", handlers.AdminLogin(d))
		auth.POST("/refresh", handlers.Refresh(d))
		auth.POST("/logout", authed, handlers.Logout(d))
		auth.GET("/me", authed, handlers.Me(d))
		auth.POST("/forgot-password", handlers.ForgotPassword(d))
		auth.POST("/reset-password", handlers.ResetPassword(d))
		auth.PUT("/change-password", authed, handlers.ChangePassword(d))
	}

	users := api.Group("/users")
	{
		users.GET("/profile", authed, handlers.GetProfile(d))
		users.PUT("/profile", authed, handlers.UpdateProfile(d))
		users.GET("/addresses", authed, handlers.GetUserAddresses(d))
		users.POST("/addresses", authed, handlers.CreateUserAddress(d))
		users.PUT("/addresses/:id", authed, handlers.UpdateUserAddress(d))
		users.DELETE("/addresses/:id", authed, handlers.DeleteUserAddress(d))
		users.GET("/wishlist", authed, handlers.GetWishlist(d))
		users.POST("/wishlist", authed, handlers.AddToWishlist(d))
		users.DELETE("/wishlist/:productId", authed, handlers.RemoveFromWishlist(d))

		users.GET("", admin, handlers.ListUsers(d))
		users.PATCH("/:id/role", admin, handlers.UpdateUserRole(d))
		users.PATCH("/:id/status", admin, handlers.UpdateUserStatus(d))
		users.DELETE("/:id", admin, handlers.DeleteUser(d))
	}

	categories := api.Group("/categories")
	{
		categories.GET("", handlers.GetCategories(d))
		categories.GET("/admin/all", admin, handlers.GetAllCategories(d))
		categories.GET("/:slug", handlers.GetCategory(d))
		categories.POST("", admin, handlers.CreateCategory(d))
		categories.PUT("/:id", admin, handlers.UpdateCategory(d))
		categories.DELETE("/:id", admin, handlers.DeleteCategory(d))
	}

	products := api.Group("/products")
	{
		products.GET("", handlers.GetProducts(d))
		products.GET("/featured", handlers.GetFeaturedProducts(d))
		products.GET("/admin/all", admin, handlers.GetAllProducts(d))
		products.GET("/:id", optional, handlers.GetProduct(d))
		products.GET("/:id/similar", handlers.GetSimilarProducts(d))
		products.GET("/:id/reviews", handlers.GetProductReviews(d))
		products.POST("/:id/reviews", authed, handlers.CreateReview(d))

		products.POST("", admin, handlers.CreateProduct(d))
		products.PUT("/:id", admin, handlers.UpdateProduct(d))
		products.DELETE("/:id", admin, handlers.DeleteProduct(d))
		products.POST("/:id/images", admin, handlers.UploadProductImage(d))
		products.DELETE("/:id/images/:imageId", admin, handlers.DeleteProductImage(d))
		products.PATCH("/:id/inventory", admin, handlers.UpdateInventory(d))
	}

	reviews := api.Group("/reviews", authed)
	{
		reviews.PUT("/:id", handlers.UpdateReview(d))
		reviews.DELETE("/:id", handlers.DeleteReview(d))
	}

	cart := api.Group("/cart", authed)
	{
		cart.GET("", handlers.GetCart(d))
		cart.DELETE("", handlers.ClearCart(d))
		cart.POST("/items", handlers.AddCartItem(d))
		cart.PUT("/items/:itemId", handlers.UpdateCartItem(d))
		cart.DELETE("/items/:itemId", handlers.RemoveCartItem(d))
		cart.POST("/coupon", handlers.ApplyCartCoupon(d))
		cart.DELETE("/coupon", handlers.RemoveCartCoupon(d))
	}

	coupons := api.Group("/coupons")
	{
		coupons.POST("/validate", authed, handlers.ValidateCoupon(d))
		coupons.GET("", admin, handlers.ListCoupons(d))
		coupons.GET("/:id", admin, handlers.GetCoupon(d))
		coupons.POST("", admin, handlers.CreateCoupon(d))
		coupons.PUT("/:id", admin, handlers.UpdateCoupon(d))
		coupons.DELETE("/:id", admin, handlers.DeleteCoupon(d))
	}

	orders := api.Group("/orders")
	{
		orders.POST("", authed, handlers.CreateOrder(d))
		orders.GET("", authed, handlers.GetMyOrders(d))
		orders.GET("/admin/all", admin, handlers.GetAllOrders(d))
		orders.GET("/:id", authed, handlers.GetOrder(d))
		orders.POST("/:id/cancel", authed, handlers.CancelOrder(d))
		orders.PATCH("/:id/status", admin, handlers.UpdateOrderStatus(d))
	}

	payments := api.Group("/payments")
	{
		payments.POST("/webhook", handlers.StripeWebhook(d))
		payments.POST("/orders/:id/confirm-payment", authed, handlers.ConfirmPayment(d))
	}

	recs := api.Group("/recommendations")
	{
		recs.GET("", authed, handlers.GetRecommendations(d))
		recs.POST("/behavior", authed, handlers.RecordBehavior(d))
		recs.GET("/trending", handlers.GetTrending(d))
		recs.GET("/popular", handlers.GetPopular(d))
		recs.GET("/products/:id/similar", handlers.GetSimilarProducts(d))
	}

	return r, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-Cache", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
