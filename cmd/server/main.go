package main

import (
	"context"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"delivery-tracking-service/internal/config"
	"delivery-tracking-service/internal/controller"
	"delivery-tracking-service/internal/model"
	"delivery-tracking-service/internal/rabbit"
	"delivery-tracking-service/internal/repository"
	"delivery-tracking-service/internal/service"
)

func main() {
	cfg := config.Load()

	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	// Conexión a MongoDB
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logrus.Fatal(err)
	}
	db := client.Database(cfg.MongoDBName)

	// Conexión a RabbitMQ (notificaciones + consumo de órdenes nuevas)
	conn, err := amqp091.Dial(cfg.RabbitURL)
	if err != nil {
		logrus.Fatalf("Error conectando a RabbitMQ: %v", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		logrus.Fatalf("Error creando canal en RabbitMQ: %v", err)
	}
	notifier, err := rabbit.NewNotifier(ch)
	if err != nil {
		logrus.Fatalf("Error declarando exchange de notificaciones: %v", err)
	}

	// Tarifas de comisión, versionadas desde la config
	rates := service.CommissionConfig{
		Version:    cfg.CommissionsVersion,
		MarkupRate: cfg.CommissionMarkup,
		Shares: map[model.AgentType]float64{
			model.AgentPickupDelivery: cfg.PickupAgentShare,
			model.AgentFastDelivery:   cfg.FastAgentShare,
		},
	}

	// Repositorios y servicios
	orders := repository.NewMongoOrderRepository(db)
	agents := repository.NewMongoAgentRepository(db)
	earnings := repository.NewMongoEarningRepository(db)

	trackingService := service.NewDeliveryTrackingService(
		orders,
		agents,
		earnings,
		notifier,
		rates,
		time.Duration(cfg.GraceHours)*time.Hour,
	)
	authService := service.NewAuthService(cfg.JWTSecret)

	// Handlers y router
	ctrl := controller.NewTrackingController(trackingService)
	r := controller.NewRouter(ctrl, authService)

	rabbit.SetupConsumers(ch, trackingService)

	// Ejecutar servidor
	logrus.Infof("Delivery Tracking Service ejecutándose en puerto %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		logrus.Fatal(err)
	}
}
