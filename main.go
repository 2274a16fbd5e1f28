package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"googlesso/api"
	"googlesso/auth"
)

func main() {
	args := ParseArgs()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: args.Level()})))
	if !args.Validate() {
		panic("missing arguments")
	}
	server, err := api.NewServer(context.Background(), args.ServerConfig)
	if err != nil {
		panic(err)
	}
	defer server.Close()

	router := gin.Default()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	server.RegisterHandlers(router)

	// 需要登入才能進入的頁面
	router.GET("/admin/", auth.RequireStaff(server.LoginURL()), currentUserHandler)
	router.GET("/secret/", auth.RequireLogin(server.LoginURL()), currentUserHandler)

	if err := router.Run(args.ServerURL); err != nil {
		panic(err)
	}
}

func currentUserHandler(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	c.JSON(http.StatusOK, gin.H{
		"email":        user.Email,
		"username":     user.Username,
		"is_staff":     user.IsStaff,
		"is_superuser": user.IsSuperuser,
		"last_login":   user.LastLogin,
	})
}
