package events

// Config holds broker settings.
type Config struct {
	URL      string `env:"AMQP_URL"`
	Exchange string `env:"AMQP_EXCHANGE" envDefault:"clinicbilling.events"`
}
