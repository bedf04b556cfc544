package main

import (
	"net/http"

	"github.com/blue-mimo/image-labelling/cmd/lambda"
	"github.com/blue-mimo/image-labelling/pkg/aws"
	"github.com/blue-mimo/image-labelling/pkg/construct"
	"github.com/blue-mimo/image-labelling/pkg/server"
)

func main() {
	lambda.StartHTTP(makeHandler)
}

func makeHandler(cfg aws.Config, service *construct.Service) http.Handler {
	return server.GetSuggestFiltersHandler(service.Lookup)
}
