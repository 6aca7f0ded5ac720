package main

// Origin directory backends register themselves with the origin package.
import (
	_ "github.com/gezibash/moq-relay/internal/origin/backend/badger"
	_ "github.com/gezibash/moq-relay/internal/origin/backend/memory"
	_ "github.com/gezibash/moq-relay/internal/origin/backend/redis"
	_ "github.com/gezibash/moq-relay/internal/origin/backend/sqlite"
)
