FROM golang:1.24-alpine AS builder

# api / worker / onboard
ARG SERVICE=api

WORKDIR /app

# Dependencies
COPY go.mod go.sum ./
RUN go mod download

# Source
COPY . .

# Build (migrations are embedded into the binary)
RUN CGO_ENABLED=0 GOOS=linux go build -trimpath -o /app/service ./cmd/${SERVICE}

# Runtime
FROM alpine:3.19

RUN apk add --no-cache ca-certificates tzdata \
    && adduser -D -H -u 10001 app

WORKDIR /app

COPY --from=builder /app/service .

USER app

ENV API_PORT=3000 \
    STORAGE_BACKEND=postgres \
    OAUTH_CODE_STORE=redis

EXPOSE 3000

CMD ["./service"]
